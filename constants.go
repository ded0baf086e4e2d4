package server

import "time"

const (
	ProtocolVersion        = 1
	writeWait              = 10 * time.Second
	heartbeatInterval      = 2 * time.Second
	disconnectAfter        = 3 * heartbeatInterval
	defaultBroadcastWindow = 16 * time.Millisecond
	diceHistoryLimit       = 64
	maxSelectionSize       = 256
)

// Reasons returned when a staged command is refused. Clients treat these as
// terminal for the command; there is no retry channel.
const (
	RejectUnknownActor  = "unknown_actor"
	RejectUnknownTarget = "unknown_target"
	RejectLocked        = "locked"
	RejectNotOwner      = "not_owner"
	RejectNotElevated   = "not_elevated"
	RejectBadCredential = "bad_credential"
	RejectMapBackground = "map_background"
	RejectInvalidInput  = "invalid_input"
)
