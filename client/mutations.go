package client

import (
	"tabletavern/server"
	"tabletavern/server/internal/confirm"
)

// CharacterResolver extracts the comparable fields of a character for
// confirmation diffing. Free-form sheet fields are namespaced so they cannot
// collide with the built-in ones.
func CharacterResolver(room server.RoomSnapshot, id string) (confirm.Fields, bool) {
	ch, ok := room.CharacterByID(id)
	if !ok {
		return nil, false
	}
	fields := confirm.Fields{
		"name":  ch.Name,
		"hp":    ch.HP,
		"maxHp": ch.MaxHP,
	}
	for k, v := range ch.Fields {
		fields["fields."+k] = v
	}
	return fields, true
}

func PropResolver(room server.RoomSnapshot, id string) (confirm.Fields, bool) {
	prop, ok := room.PropByID(id)
	if !ok {
		return nil, false
	}
	fields := confirm.Fields{"name": prop.Name}
	for k, v := range prop.Fields {
		fields["fields."+k] = v
	}
	return fields, true
}

func RoleResolver(room server.RoomSnapshot, uid string) (confirm.Fields, bool) {
	p, ok := room.PlayerByUID(uid)
	if !ok {
		return nil, false
	}
	return confirm.Fields{"elevated": p.Elevated}, true
}

// CharacterUpdate is a partial character edit; nil members are untouched.
type CharacterUpdate struct {
	Name   *string
	HP     *int
	MaxHP  *int
	Fields map[string]string
}

// UpdateCharacter fires an optimistic character edit. It is rejected
// synchronously when the character is absent from the local snapshot or an
// edit for it is already in flight.
func (c *Client) UpdateCharacter(id string, upd CharacterUpdate) error {
	fields := confirm.Fields{}
	if upd.Name != nil {
		fields["name"] = *upd.Name
	}
	if upd.HP != nil {
		fields["hp"] = *upd.HP
	}
	if upd.MaxHP != nil {
		fields["maxHp"] = *upd.MaxHP
	}
	for k, v := range upd.Fields {
		fields["fields."+k] = v
	}
	cmd := &server.UpdateCharacterCommand{
		ID:     id,
		Name:   upd.Name,
		HP:     upd.HP,
		MaxHP:  upd.MaxHP,
		Fields: upd.Fields,
	}
	return c.characters.Begin(c.Snapshot(), id, fields, cmd)
}

type PropUpdate struct {
	Name   *string
	Fields map[string]string
}

func (c *Client) UpdateProp(id string, upd PropUpdate) error {
	fields := confirm.Fields{}
	if upd.Name != nil {
		fields["name"] = *upd.Name
	}
	for k, v := range upd.Fields {
		fields["fields."+k] = v
	}
	cmd := &server.UpdatePropCommand{ID: id, Name: upd.Name, Fields: upd.Fields}
	return c.props.Begin(c.Snapshot(), id, fields, cmd)
}

// ElevateRole requests the elevated role. Like every other optimistic update
// there is no acknowledgment: either a snapshot arrives showing the flag set,
// or the request times out.
func (c *Client) ElevateRole(credential string) error {
	uid := c.UID()
	cmd := &server.ElevateRoleCommand{Credential: credential}
	return c.roles.Begin(c.Snapshot(), uid, confirm.Fields{"elevated": true}, cmd)
}

func (c *Client) RevokeRole() error {
	uid := c.UID()
	return c.roles.Begin(c.Snapshot(), uid, confirm.Fields{"elevated": false}, &server.RevokeRoleCommand{})
}

// DeleteSelected runs the permission-checked batch delete over the local
// snapshot: eligibility is evaluated here for the confirmation prompt, one
// delete command is emitted per surviving id, and the server independently
// re-checks every one of them.
func (c *Client) DeleteSelected(confirmFn server.ConfirmFunc) server.DeleteOutcome {
	room := c.Snapshot()
	uid := c.UID()
	elevated := false
	if p, ok := room.PlayerByUID(uid); ok {
		elevated = p.Elevated
	}
	req := server.DeleteRequest{
		Selected: room.Selection[uid],
		UID:      uid,
		Elevated: elevated,
	}
	return server.DeleteSelection(&room, req, server.DeleteHooks{
		Confirm: confirmFn,
		Apply: func(id string) error {
			return c.Send(&server.DeleteObjectCommand{ID: id})
		},
		ClearSelection: func() {
			c.Send(&server.SetSelectionCommand{})
		},
	})
}

func (c *Client) SetSelection(objectIDs []string) error {
	return c.Send(&server.SetSelectionCommand{ObjectIDs: objectIDs})
}

func (c *Client) LockObjects(objectIDs []string, locked bool) error {
	return c.Send(&server.LockObjectsCommand{ObjectIDs: objectIDs, Locked: locked})
}

func (c *Client) AddObject(cmd server.AddObjectCommand) error {
	return c.Send(&cmd)
}

func (c *Client) TransformObject(cmd server.TransformObjectCommand) error {
	return c.Send(&cmd)
}

func (c *Client) RollDice(formula string) error {
	return c.Send(&server.RollDiceCommand{Formula: formula})
}

func (c *Client) LoadSession(snapshot server.RoomSnapshot) error {
	return c.Send(&server.LoadSessionCommand{Snapshot: snapshot})
}
