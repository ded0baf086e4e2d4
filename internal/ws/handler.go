package ws

import (
	"log"
	nethttp "net/http"

	"github.com/gorilla/websocket"

	"tabletavern/server"
)

type HandlerConfig struct {
	Logger *log.Logger
}

// Handler upgrades HTTP requests to websocket sessions and pumps inbound
// frames into the hub's dispatcher.
type Handler struct {
	hub      *server.Hub
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		logger:   logger,
		upgrader: upgrader,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	codec, err := server.CodecByName(r.URL.Query().Get("codec"))
	if err != nil {
		nethttp.Error(w, err.Error(), nethttp.StatusBadRequest)
		return
	}

	uid := r.URL.Query().Get("uid")
	if uid == "" {
		uid = server.NewUID()
	}
	name := r.URL.Query().Get("name")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", uid, err)
		return
	}

	h.hub.Join(uid, name, conn, codec)
	defer h.hub.Leave(uid)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.hub.Dispatch(uid, payload, codec)
	}
}
