package server

import (
	"context"
	"encoding/json"

	"tabletavern/server/logging"
	logmut "tabletavern/server/logging/mutation"
)

// Dispatch routes one inbound frame from uid: decode, authorize, mutate the
// snapshot, request a broadcast. Unknown tags are logged and ignored; a
// panicking handler is captured with the tag, sender, and a JSON-serializable
// copy of the message, and the loop keeps serving every other connection.
func (h *Hub) Dispatch(uid string, data []byte, codec Codec) {
	cmd, err := DecodeCommand(codec, data)
	if err != nil {
		if tagErr, ok := err.(*UnknownTagError); ok {
			logmut.UnknownTag(context.Background(), h.pub, uid, tagErr.TagName)
			return
		}
		logmut.UnknownTag(context.Background(), h.pub, uid, "malformed")
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			serialized := serializeForDiagnostics(cmd)
			logmut.HandlerPanic(context.Background(), h.pub, uid, cmd.Tag(), recovered, serialized)
		}
	}()

	h.handle(uid, cmd)
}

// serializeForDiagnostics makes a best-effort JSON copy of the message so a
// handler failure can be reproduced from the log alone.
func serializeForDiagnostics(cmd Command) any {
	data, err := json.Marshal(cmd)
	if err != nil {
		return map[string]any{"tag": cmd.Tag(), "marshalError": err.Error()}
	}
	return json.RawMessage(data)
}

func (h *Hub) handle(uid string, cmd Command) {
	// Heartbeats are liveness traffic, not mutations; they bypass the hub
	// lock and never schedule a broadcast.
	if hb, ok := cmd.(*HeartbeatCommand); ok {
		h.handleHeartbeat(uid, hb)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, known := h.snapshot.PlayerByUID(uid); !known {
		h.denyLocked(uid, cmd.Tag(), RejectUnknownActor)
		return
	}

	switch c := cmd.(type) {
	case *DeleteObjectCommand:
		h.handleDeleteObject(uid, c)
	case *LockObjectsCommand:
		h.handleLockObjects(uid, c)
	case *TransformObjectCommand:
		h.handleTransformObject(uid, c)
	case *UpdateCharacterCommand:
		h.handleUpdateCharacter(uid, c)
	case *UpdatePropCommand:
		h.handleUpdateProp(uid, c)
	case *ElevateRoleCommand:
		h.handleElevateRole(uid, c)
	case *RevokeRoleCommand:
		h.handleRevokeRole(uid)
	case *SetSelectionCommand:
		h.handleSetSelection(uid, c)
	case *AddObjectCommand:
		h.handleAddObject(uid, c)
	case *RollDiceCommand:
		h.handleRollDice(uid, c)
	case *LoadSessionCommand:
		h.handleLoadSession(uid, c)
	}
}

func (h *Hub) elevatedLocked(uid string) bool {
	p, ok := h.snapshot.PlayerByUID(uid)
	return ok && p.Elevated
}

func (h *Hub) denyLocked(uid, tag, reason string) {
	logmut.Denied(context.Background(), h.pub, h.seq.Load(), uid, tag, reason)
}

func (h *Hub) appliedLocked(uid, tag string, targets ...logging.EntityRef) {
	logmut.Applied(context.Background(), h.pub, h.seq.Load(), uid, tag, targets)
}

func (h *Hub) handleDeleteObject(uid string, cmd *DeleteObjectCommand) {
	obj, ok := h.snapshot.Object(cmd.ID)
	if !ok {
		h.denyLocked(uid, cmd.Tag(), RejectUnknownTarget)
		return
	}
	if ok, reason := deleteEligible(obj, uid, h.elevatedLocked(uid)); !ok {
		h.denyLocked(uid, cmd.Tag(), reason)
		return
	}
	kind := obj.Kind
	h.snapshot.RemoveObject(cmd.ID)
	h.appliedLocked(uid, cmd.Tag(), objectRef(cmd.ID, kind))
	h.requestBroadcast(false)
}

// handleLockObjects toggles locks in batch. Lock state changes use only the
// ownership half of the predicate: the current lock cannot gate the unlock
// operation or nothing could ever be unlocked.
func (h *Hub) handleLockObjects(uid string, cmd *LockObjectsCommand) {
	elevated := h.elevatedLocked(uid)
	changed := 0
	for _, id := range cmd.ObjectIDs {
		obj, ok := h.snapshot.Object(id)
		if !ok {
			continue
		}
		if !elevated && obj.Owner != "" && obj.Owner != uid {
			h.denyLocked(uid, cmd.Tag(), RejectNotOwner)
			continue
		}
		if obj.Locked != cmd.Locked {
			obj.Locked = cmd.Locked
			changed++
		}
	}
	if changed > 0 {
		h.appliedLocked(uid, cmd.Tag())
		h.requestBroadcast(false)
	}
}

func (h *Hub) handleTransformObject(uid string, cmd *TransformObjectCommand) {
	obj, ok := h.snapshot.Object(cmd.ID)
	if !ok {
		h.denyLocked(uid, cmd.Tag(), RejectUnknownTarget)
		return
	}
	elevated := h.elevatedLocked(uid)
	changed := false

	// Transform components are checked against the lock state the message
	// arrived under, so a move combined with a lock in one gesture lands
	// before the lock takes effect.
	hasTransform := cmd.X != nil || cmd.Y != nil || cmd.ScaleX != nil || cmd.ScaleY != nil || cmd.Rotation != nil || cmd.ZOrder != nil
	if hasTransform {
		if ok, reason := Eligible(obj, uid, elevated); !ok {
			h.denyLocked(uid, cmd.Tag(), reason)
		} else {
			if cmd.X != nil {
				obj.Transform.X = *cmd.X
			}
			if cmd.Y != nil {
				obj.Transform.Y = *cmd.Y
			}
			if cmd.ScaleX != nil {
				obj.Transform.ScaleX = *cmd.ScaleX
			}
			if cmd.ScaleY != nil {
				obj.Transform.ScaleY = *cmd.ScaleY
			}
			if cmd.Rotation != nil {
				obj.Transform.Rotation = *cmd.Rotation
			}
			if cmd.ZOrder != nil {
				obj.ZOrder = *cmd.ZOrder
			}
			changed = true
		}
	}

	if cmd.Locked != nil {
		// Same ownership-only rule as handleLockObjects.
		if !elevated && obj.Owner != "" && obj.Owner != uid {
			h.denyLocked(uid, cmd.Tag(), RejectNotOwner)
		} else if obj.Locked != *cmd.Locked {
			obj.Locked = *cmd.Locked
			changed = true
		}
	}

	if !changed {
		return
	}
	h.appliedLocked(uid, cmd.Tag(), objectRef(obj.ID, obj.Kind))
	h.requestBroadcast(false)
}

func (h *Hub) handleUpdateCharacter(uid string, cmd *UpdateCharacterCommand) {
	ch, ok := h.snapshot.CharacterByID(cmd.ID)
	if !ok {
		h.denyLocked(uid, cmd.Tag(), RejectUnknownTarget)
		return
	}
	if !h.elevatedLocked(uid) && ch.Owner != "" && ch.Owner != uid {
		h.denyLocked(uid, cmd.Tag(), RejectNotOwner)
		return
	}
	if cmd.Name != nil {
		ch.Name = *cmd.Name
	}
	if cmd.HP != nil {
		ch.HP = *cmd.HP
	}
	if cmd.MaxHP != nil {
		ch.MaxHP = *cmd.MaxHP
	}
	if len(cmd.Fields) > 0 {
		if ch.Fields == nil {
			ch.Fields = make(map[string]string, len(cmd.Fields))
		}
		for k, v := range cmd.Fields {
			ch.Fields[k] = v
		}
	}
	h.appliedLocked(uid, cmd.Tag(), logging.EntityRef{ID: ch.ID, Kind: logging.EntityKindCharacter})
	h.requestBroadcast(false)
}

func (h *Hub) handleUpdateProp(uid string, cmd *UpdatePropCommand) {
	prop, ok := h.snapshot.PropByID(cmd.ID)
	if !ok {
		h.denyLocked(uid, cmd.Tag(), RejectUnknownTarget)
		return
	}
	if !h.elevatedLocked(uid) && prop.Owner != "" && prop.Owner != uid {
		h.denyLocked(uid, cmd.Tag(), RejectNotOwner)
		return
	}
	if cmd.Name != nil {
		prop.Name = *cmd.Name
	}
	if len(cmd.Fields) > 0 {
		if prop.Fields == nil {
			prop.Fields = make(map[string]string, len(cmd.Fields))
		}
		for k, v := range cmd.Fields {
			prop.Fields[k] = v
		}
	}
	h.appliedLocked(uid, cmd.Tag(), logging.EntityRef{ID: prop.ID, Kind: logging.EntityKindProp})
	h.requestBroadcast(false)
}

// handleElevateRole grants the elevated role when the shared credential
// matches. A wrong credential is logged and otherwise silent: the requester
// finds out through the unchanged snapshot, like every other rejection.
func (h *Hub) handleElevateRole(uid string, cmd *ElevateRoleCommand) {
	if h.cfg.GMCredential == "" || cmd.Credential != h.cfg.GMCredential {
		h.denyLocked(uid, cmd.Tag(), RejectBadCredential)
		return
	}
	p, _ := h.snapshot.PlayerByUID(uid)
	p.Elevated = true
	h.appliedLocked(uid, cmd.Tag())
	h.requestBroadcast(false)
}

func (h *Hub) handleRevokeRole(uid string) {
	p, _ := h.snapshot.PlayerByUID(uid)
	if !p.Elevated {
		return
	}
	p.Elevated = false
	h.appliedLocked(uid, TagRevokeRole)
	h.requestBroadcast(false)
}

func (h *Hub) handleSetSelection(uid string, cmd *SetSelectionCommand) {
	ids := cmd.ObjectIDs
	if len(ids) > maxSelectionSize {
		ids = ids[:maxSelectionSize]
	}
	if len(ids) == 0 {
		delete(h.snapshot.Selection, uid)
	} else {
		h.snapshot.Selection[uid] = append([]string(nil), ids...)
	}
	h.requestBroadcast(false)
}

func (h *Hub) handleAddObject(uid string, cmd *AddObjectCommand) {
	if !cmd.Kind.valid() {
		h.denyLocked(uid, cmd.Tag(), RejectInvalidInput)
		return
	}
	if cmd.Kind == ObjectKindMap && !h.elevatedLocked(uid) {
		h.denyLocked(uid, cmd.Tag(), RejectNotElevated)
		return
	}
	obj := h.snapshot.AddObject(SceneObject{
		ID:        cmd.ID,
		Kind:      cmd.Kind,
		Name:      cmd.Name,
		Owner:     cmd.Owner,
		ZOrder:    cmd.ZOrder,
		Transform: cmd.Transform,
		Data:      cmd.Data,
	})
	h.appliedLocked(uid, cmd.Tag(), objectRef(obj.ID, obj.Kind))
	h.requestBroadcast(false)
}

func (h *Hub) handleRollDice(uid string, cmd *RollDiceCommand) {
	results, modifier, err := h.roll(cmd.Formula, h.rng)
	if err != nil {
		h.denyLocked(uid, cmd.Tag(), RejectInvalidInput)
		return
	}
	total := modifier
	for _, r := range results {
		total += r
	}
	h.snapshot.AppendRoll(DiceRoll{
		ID:       newID(),
		UID:      uid,
		Formula:  cmd.Formula,
		Results:  results,
		Total:    total,
		RolledAt: h.clock().UnixMilli(),
	})
	h.appliedLocked(uid, cmd.Tag())
	h.requestBroadcast(false)
}

// handleLoadSession replaces the whole snapshot and broadcasts immediately:
// a freshly loaded session must be observed at once, not after a debounce
// window.
func (h *Hub) handleLoadSession(uid string, cmd *LoadSessionCommand) {
	if !h.elevatedLocked(uid) {
		h.denyLocked(uid, cmd.Tag(), RejectNotElevated)
		return
	}
	prior := make(map[string]Player, len(h.snapshot.Players))
	for _, p := range h.snapshot.Players {
		prior[p.UID] = p
	}

	h.snapshot.Apply(cmd.Snapshot)

	// Every uid with a live connection stays on the roster even when the
	// loaded state predates them; a dropped record would leave that player
	// refused as an unknown actor until reconnect.
	for _, connected := range h.registry.UIDs() {
		name := ""
		elevated := false
		if p, ok := prior[connected]; ok {
			name = p.Name
			elevated = p.Elevated
		}
		rec := h.snapshot.EnsurePlayer(connected, name)
		if elevated {
			rec.Elevated = true
		}
	}

	p := h.snapshot.EnsurePlayer(uid, "")
	p.Elevated = true
	h.appliedLocked(uid, cmd.Tag())
	h.requestBroadcast(true)
}

func (h *Hub) handleHeartbeat(uid string, cmd *HeartbeatCommand) {
	now := h.clock()
	rtt, ok := h.registry.UpdateHeartbeat(uid, now, cmd.SentAt)
	if !ok {
		return
	}
	h.registry.SendTo(uid, HeartbeatMessage{
		Ver:        ProtocolVersion,
		Type:       MessageTypeHeartbeat,
		ServerTime: now.UnixMilli(),
		ClientTime: cmd.SentAt,
		RTTMillis:  rtt.Milliseconds(),
	})
}

func objectRef(id string, kind ObjectKind) logging.EntityRef {
	switch kind {
	case ObjectKindToken:
		return logging.EntityRef{ID: id, Kind: logging.EntityKindToken}
	case ObjectKindDrawing:
		return logging.EntityRef{ID: id, Kind: logging.EntityKindDrawing}
	case ObjectKindProp:
		return logging.EntityRef{ID: id, Kind: logging.EntityKindProp}
	default:
		return logging.EntityRef{ID: id, Kind: logging.EntityKindUnknown}
	}
}
