package server

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Codec is the negotiated wire encoding for one connection. JSON is the
// default; clients may opt into CBOR at connect time. The codec applies to
// both directions for the life of the connection.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	// MessageType is the websocket frame type the encoding travels in.
	MessageType() int
}

type jsonCodec struct{}

func (jsonCodec) Name() string                    { return "json" }
func (jsonCodec) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (jsonCodec) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) MessageType() int                { return websocket.TextMessage }

type cborCodec struct{}

func (cborCodec) Name() string                    { return "cbor" }
func (cborCodec) Encode(v any) ([]byte, error)    { return cbor.Marshal(v) }
func (cborCodec) Decode(data []byte, v any) error { return cbor.Unmarshal(data, v) }
func (cborCodec) MessageType() int                { return websocket.BinaryMessage }

// CodecByName resolves a negotiated codec name. Empty selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return jsonCodec{}, nil
	case "cbor":
		return cborCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
