package server

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// ObjectKind discriminates the polymorphic scene graph. Every kind shares the
// SceneObject envelope (id, owner, lock, z-order, transform).
type ObjectKind string

const (
	ObjectKindMap         ObjectKind = "map"
	ObjectKindToken       ObjectKind = "token"
	ObjectKindDrawing     ObjectKind = "drawing"
	ObjectKindPointer     ObjectKind = "pointer"
	ObjectKindProp        ObjectKind = "prop"
	ObjectKindStagingZone ObjectKind = "staging-zone"
)

func (k ObjectKind) valid() bool {
	switch k {
	case ObjectKindMap, ObjectKindToken, ObjectKindDrawing, ObjectKindPointer, ObjectKindProp, ObjectKindStagingZone:
		return true
	}
	return false
}

// Transform is the 2D placement every scene object carries.
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	ScaleX   float64 `json:"scaleX"`
	ScaleY   float64 `json:"scaleY"`
	Rotation float64 `json:"rotation"`
}

// SceneObject is one entity on the shared board. Owner is empty for unowned
// objects; Locked blocks every mutation for every actor until unlocked.
type SceneObject struct {
	ID        string            `json:"id"`
	Kind      ObjectKind        `json:"kind"`
	Name      string            `json:"name,omitempty"`
	Owner     string            `json:"owner,omitempty"`
	Locked    bool              `json:"locked"`
	ZOrder    int               `json:"zOrder"`
	Transform Transform         `json:"transform"`
	Data      map[string]string `json:"data,omitempty"`
}

// Player is one connected (or previously seen) participant.
type Player struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	Elevated bool   `json:"elevated"`
}

// Character is a player character or NPC sheet. Free-form fields hold
// system-specific attributes alongside the always-present hit point pair.
type Character struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	NPC    bool              `json:"npc"`
	Owner  string            `json:"owner,omitempty"`
	HP     int               `json:"hp"`
	MaxHP  int               `json:"maxHp"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Prop is a shared handout or scene prop record.
type Prop struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Owner  string            `json:"owner,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// DiceRoll is one resolved roll appended to the session history.
type DiceRoll struct {
	ID       string `json:"id"`
	UID      string `json:"uid"`
	Formula  string `json:"formula"`
	Results  []int  `json:"results"`
	Total    int    `json:"total"`
	RolledAt int64  `json:"rolledAt"`
}

// RoomSnapshot is the single authoritative session state. It is created once,
// mutated in place only by the dispatcher, and broadcast whole.
type RoomSnapshot struct {
	Players    []Player            `json:"players"`
	Characters []Character         `json:"characters"`
	Props      []Prop              `json:"props"`
	Objects    []SceneObject       `json:"objects"`
	DiceRolls  []DiceRoll          `json:"diceRolls"`
	Selection  map[string][]string `json:"selection"`
}

func NewRoomSnapshot() *RoomSnapshot {
	return &RoomSnapshot{
		Players:    make([]Player, 0),
		Characters: make([]Character, 0),
		Props:      make([]Prop, 0),
		Objects:    make([]SceneObject, 0),
		DiceRolls:  make([]DiceRoll, 0),
		Selection:  make(map[string][]string),
	}
}

func newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
}

// NewUID mints a connection uid for clients that arrive without one.
func NewUID() string {
	return "player-" + newID()
}

// Object resolves a scene object by id. The second return mirrors map lookup.
func (s *RoomSnapshot) Object(id string) (*SceneObject, bool) {
	for i := range s.Objects {
		if s.Objects[i].ID == id {
			return &s.Objects[i], true
		}
	}
	return nil, false
}

func (s *RoomSnapshot) CharacterByID(id string) (*Character, bool) {
	for i := range s.Characters {
		if s.Characters[i].ID == id {
			return &s.Characters[i], true
		}
	}
	return nil, false
}

func (s *RoomSnapshot) PropByID(id string) (*Prop, bool) {
	for i := range s.Props {
		if s.Props[i].ID == id {
			return &s.Props[i], true
		}
	}
	return nil, false
}

func (s *RoomSnapshot) PlayerByUID(uid string) (*Player, bool) {
	for i := range s.Players {
		if s.Players[i].UID == uid {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// EnsurePlayer registers uid on first contact and returns its record.
func (s *RoomSnapshot) EnsurePlayer(uid, name string) *Player {
	if p, ok := s.PlayerByUID(uid); ok {
		if name != "" {
			p.Name = name
		}
		return p
	}
	s.Players = append(s.Players, Player{UID: uid, Name: name})
	return &s.Players[len(s.Players)-1]
}

// AddObject inserts obj, minting a fresh id when the proposed one is empty or
// already taken. Scene object ids are unique within the snapshot.
func (s *RoomSnapshot) AddObject(obj SceneObject) *SceneObject {
	if obj.ID == "" {
		obj.ID = newID()
	} else if _, taken := s.Object(obj.ID); taken {
		obj.ID = newID()
	}
	if obj.Transform.ScaleX == 0 {
		obj.Transform.ScaleX = 1
	}
	if obj.Transform.ScaleY == 0 {
		obj.Transform.ScaleY = 1
	}
	s.Objects = append(s.Objects, obj)
	return &s.Objects[len(s.Objects)-1]
}

// RemoveObject deletes the object with the given id. Missing ids are no-ops.
func (s *RoomSnapshot) RemoveObject(id string) bool {
	for i := range s.Objects {
		if s.Objects[i].ID == id {
			s.Objects = append(s.Objects[:i], s.Objects[i+1:]...)
			return true
		}
	}
	return false
}

// Apply replaces the whole snapshot in place, preserving the receiver pointer
// that the hub and all readers hold. Used by session load.
func (s *RoomSnapshot) Apply(next RoomSnapshot) {
	if next.Selection == nil {
		next.Selection = make(map[string][]string)
	}
	*s = next
}

// Clone makes a read-only copy for broadcasting and confirmation diffing.
// Readers never share backing storage with the authoritative snapshot.
func (s *RoomSnapshot) Clone() RoomSnapshot {
	out := RoomSnapshot{
		Players:    append([]Player(nil), s.Players...),
		Characters: append([]Character(nil), s.Characters...),
		Props:      append([]Prop(nil), s.Props...),
		Objects:    append([]SceneObject(nil), s.Objects...),
		DiceRolls:  append([]DiceRoll(nil), s.DiceRolls...),
		Selection:  make(map[string][]string, len(s.Selection)),
	}
	for i := range out.Characters {
		out.Characters[i].Fields = cloneFields(out.Characters[i].Fields)
	}
	for i := range out.Props {
		out.Props[i].Fields = cloneFields(out.Props[i].Fields)
	}
	for i := range out.Objects {
		out.Objects[i].Data = cloneFields(out.Objects[i].Data)
	}
	for i := range out.DiceRolls {
		out.DiceRolls[i].Results = append([]int(nil), out.DiceRolls[i].Results...)
	}
	for uid, ids := range s.Selection {
		out.Selection[uid] = append([]string(nil), ids...)
	}
	return out
}

func cloneFields(fields map[string]string) map[string]string {
	if fields == nil {
		return nil
	}
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}

// AppendRoll records a resolved roll, keeping only the most recent
// diceHistoryLimit entries.
func (s *RoomSnapshot) AppendRoll(roll DiceRoll) {
	s.DiceRolls = append(s.DiceRolls, roll)
	if excess := len(s.DiceRolls) - diceHistoryLimit; excess > 0 {
		s.DiceRolls = append(s.DiceRolls[:0], s.DiceRolls[excess:]...)
	}
}
