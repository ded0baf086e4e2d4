package server

import "fmt"

// Client-to-server message tags. The tag is the single discriminant; required
// companion fields live on the per-tag payload struct.
const (
	TagDeleteObject    = "deleteObject"
	TagLockObjects     = "lockObjects"
	TagTransformObject = "transformObject"
	TagUpdateCharacter = "updateCharacter"
	TagUpdateProp      = "updateProp"
	TagElevateRole     = "elevateRole"
	TagRevokeRole      = "revokeRole"
	TagSetSelection    = "setSelection"
	TagAddObject       = "addObject"
	TagRollDice        = "rollDice"
	TagLoadSession     = "loadSession"
	TagHeartbeat       = "heartbeat"
)

// Command is the closed sum of every client message the dispatcher accepts.
// The marker method keeps the set closed so new tags are a compile-checked
// addition in both DecodeCommand and the dispatcher switch.
type Command interface {
	Tag() string
}

type DeleteObjectCommand struct {
	ID string `json:"id"`
}

type LockObjectsCommand struct {
	ObjectIDs []string `json:"objectIds"`
	Locked    bool     `json:"locked"`
}

// TransformObjectCommand carries only the components the client wants to
// change; nil means leave untouched. Locked rides along because lock toggles
// arrive from the same gesture surface as transforms.
type TransformObjectCommand struct {
	ID       string   `json:"id"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	ScaleX   *float64 `json:"scaleX,omitempty"`
	ScaleY   *float64 `json:"scaleY,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
	ZOrder   *int     `json:"zOrder,omitempty"`
	Locked   *bool    `json:"locked,omitempty"`
}

type UpdateCharacterCommand struct {
	ID     string            `json:"id"`
	Name   *string           `json:"name,omitempty"`
	HP     *int              `json:"hp,omitempty"`
	MaxHP  *int              `json:"maxHp,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

type UpdatePropCommand struct {
	ID     string            `json:"id"`
	Name   *string           `json:"name,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

type ElevateRoleCommand struct {
	Credential string `json:"credential"`
}

type RevokeRoleCommand struct{}

type SetSelectionCommand struct {
	ObjectIDs []string `json:"objectIds"`
}

type AddObjectCommand struct {
	ID        string            `json:"id,omitempty"`
	Kind      ObjectKind        `json:"kind"`
	Name      string            `json:"name,omitempty"`
	Owner     string            `json:"owner,omitempty"`
	ZOrder    int               `json:"zOrder,omitempty"`
	Transform Transform         `json:"transform"`
	Data      map[string]string `json:"data,omitempty"`
}

type RollDiceCommand struct {
	Formula string `json:"formula"`
}

type LoadSessionCommand struct {
	Snapshot RoomSnapshot `json:"snapshot"`
}

type HeartbeatCommand struct {
	SentAt int64 `json:"sentAt"`
}

func (DeleteObjectCommand) Tag() string    { return TagDeleteObject }
func (LockObjectsCommand) Tag() string     { return TagLockObjects }
func (TransformObjectCommand) Tag() string { return TagTransformObject }
func (UpdateCharacterCommand) Tag() string { return TagUpdateCharacter }
func (UpdatePropCommand) Tag() string      { return TagUpdateProp }
func (ElevateRoleCommand) Tag() string     { return TagElevateRole }
func (RevokeRoleCommand) Tag() string      { return TagRevokeRole }
func (SetSelectionCommand) Tag() string    { return TagSetSelection }
func (AddObjectCommand) Tag() string       { return TagAddObject }
func (RollDiceCommand) Tag() string        { return TagRollDice }
func (LoadSessionCommand) Tag() string     { return TagLoadSession }
func (HeartbeatCommand) Tag() string       { return TagHeartbeat }

// Envelope is the client message frame: version, tag, and the tag's payload
// fields inline.
type Envelope struct {
	Ver  int    `json:"ver,omitempty"`
	Type string `json:"type"`
}

// UnknownTagError reports a message whose tag is not part of the protocol.
// The dispatcher logs these and keeps serving; the sender is never told.
type UnknownTagError struct {
	TagName string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown message tag %q", e.TagName)
}

// DecodeCommand turns one wire frame into its typed command. The payload is
// decoded with the connection's negotiated codec.
func DecodeCommand(codec Codec, data []byte) (Command, error) {
	var env Envelope
	if err := codec.Decode(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var cmd Command
	switch env.Type {
	case TagDeleteObject:
		cmd = &DeleteObjectCommand{}
	case TagLockObjects:
		cmd = &LockObjectsCommand{}
	case TagTransformObject:
		cmd = &TransformObjectCommand{}
	case TagUpdateCharacter:
		cmd = &UpdateCharacterCommand{}
	case TagUpdateProp:
		cmd = &UpdatePropCommand{}
	case TagElevateRole:
		cmd = &ElevateRoleCommand{}
	case TagRevokeRole:
		cmd = &RevokeRoleCommand{}
	case TagSetSelection:
		cmd = &SetSelectionCommand{}
	case TagAddObject:
		cmd = &AddObjectCommand{}
	case TagRollDice:
		cmd = &RollDiceCommand{}
	case TagLoadSession:
		cmd = &LoadSessionCommand{}
	case TagHeartbeat:
		cmd = &HeartbeatCommand{}
	default:
		return nil, &UnknownTagError{TagName: env.Type}
	}

	if err := codec.Decode(data, cmd); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return cmd, nil
}

// EncodeCommand frames cmd for the wire: the payload fields inline with the
// ver and type discriminant, mirroring what DecodeCommand expects.
func EncodeCommand(codec Codec, cmd Command) ([]byte, error) {
	body, err := codec.Encode(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", cmd.Tag(), err)
	}
	fields := make(map[string]any)
	if err := codec.Decode(body, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s payload: %w", cmd.Tag(), err)
	}
	fields["ver"] = ProtocolVersion
	fields["type"] = cmd.Tag()
	return codec.Encode(fields)
}

// SnapshotMessage is the server's only outbound message for the sync core:
// the full authoritative snapshot. There is no ack or error message; a
// rejected mutation is visible only as the absence of the expected change in
// the next snapshot.
type SnapshotMessage struct {
	Ver        int          `json:"ver"`
	Type       string       `json:"type"`
	Seq        uint64       `json:"seq"`
	Room       RoomSnapshot `json:"room"`
	ServerTime int64        `json:"serverTime"`
}

// JoinedMessage is the targeted first message after attach: the assigned uid
// plus the current snapshot.
type JoinedMessage struct {
	Ver        int          `json:"ver"`
	Type       string       `json:"type"`
	UID        string       `json:"uid"`
	Seq        uint64       `json:"seq"`
	Room       RoomSnapshot `json:"room"`
	ServerTime int64        `json:"serverTime"`
}

// HeartbeatMessage echoes a client heartbeat with the measured RTT.
type HeartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

const (
	MessageTypeSnapshot  = "snapshot"
	MessageTypeJoined    = "joined"
	MessageTypeHeartbeat = "heartbeat"
)
