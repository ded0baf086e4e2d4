package server

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeCommandResolvesEveryTag(t *testing.T) {
	cases := []struct {
		frame string
		want  Command
	}{
		{`{"ver":1,"type":"deleteObject","id":"tok"}`, &DeleteObjectCommand{ID: "tok"}},
		{`{"ver":1,"type":"lockObjects","objectIds":["a","b"],"locked":true}`, &LockObjectsCommand{ObjectIDs: []string{"a", "b"}, Locked: true}},
		{`{"ver":1,"type":"elevateRole","credential":"mellon"}`, &ElevateRoleCommand{Credential: "mellon"}},
		{`{"ver":1,"type":"revokeRole"}`, &RevokeRoleCommand{}},
		{`{"ver":1,"type":"rollDice","formula":"2d6+1"}`, &RollDiceCommand{Formula: "2d6+1"}},
		{`{"ver":1,"type":"heartbeat","sentAt":123}`, &HeartbeatCommand{SentAt: 123}},
	}

	for _, tc := range cases {
		got, err := DecodeCommand(jsonCodec{}, []byte(tc.frame))
		if err != nil {
			t.Fatalf("decode %s: %v", tc.frame, err)
		}
		if got.Tag() != tc.want.Tag() {
			t.Fatalf("frame %s decoded to tag %s", tc.frame, got.Tag())
		}
		gotJSON, _ := json.Marshal(got)
		wantJSON, _ := json.Marshal(tc.want)
		if string(gotJSON) != string(wantJSON) {
			t.Fatalf("frame %s decoded to %s, want %s", tc.frame, gotJSON, wantJSON)
		}
	}
}

func TestDecodeCommandPartialTransform(t *testing.T) {
	frame := []byte(`{"ver":1,"type":"transformObject","id":"tok","x":4.5}`)
	cmd, err := DecodeCommand(jsonCodec{}, frame)
	if err != nil {
		t.Fatal(err)
	}
	tr, ok := cmd.(*TransformObjectCommand)
	if !ok {
		t.Fatalf("decoded to %T", cmd)
	}
	if tr.X == nil || *tr.X != 4.5 {
		t.Fatalf("x not decoded: %+v", tr)
	}
	if tr.Y != nil || tr.Rotation != nil || tr.Locked != nil {
		t.Fatalf("absent components decoded as present: %+v", tr)
	}
}

func TestDecodeCommandUnknownTag(t *testing.T) {
	_, err := DecodeCommand(jsonCodec{}, []byte(`{"ver":1,"type":"summonDragon"}`))
	var tagErr *UnknownTagError
	if !errors.As(err, &tagErr) {
		t.Fatalf("err = %v, want UnknownTagError", err)
	}
	if tagErr.TagName != "summonDragon" {
		t.Fatalf("tag name = %q", tagErr.TagName)
	}
}

func TestEncodeCommandRoundTrip(t *testing.T) {
	hp := 7
	name := "Mira"
	commands := []Command{
		&DeleteObjectCommand{ID: "tok"},
		&UpdateCharacterCommand{ID: "c1", Name: &name, HP: &hp},
		&SetSelectionCommand{ObjectIDs: []string{"a", "b", "c"}},
		&LoadSessionCommand{Snapshot: RoomSnapshot{
			Objects: []SceneObject{{ID: "map", Kind: ObjectKindMap, Transform: Transform{ScaleX: 1, ScaleY: 1}}},
		}},
	}

	for _, codec := range []Codec{jsonCodec{}, cborCodec{}} {
		for _, cmd := range commands {
			frame, err := EncodeCommand(codec, cmd)
			if err != nil {
				t.Fatalf("%s encode %s: %v", codec.Name(), cmd.Tag(), err)
			}
			decoded, err := DecodeCommand(codec, frame)
			if err != nil {
				t.Fatalf("%s decode %s: %v", codec.Name(), cmd.Tag(), err)
			}
			if decoded.Tag() != cmd.Tag() {
				t.Fatalf("%s round trip moved tag %s to %s", codec.Name(), cmd.Tag(), decoded.Tag())
			}
			gotJSON, _ := json.Marshal(decoded)
			wantJSON, _ := json.Marshal(cmd)
			if string(gotJSON) != string(wantJSON) {
				t.Fatalf("%s round trip of %s:\n got %s\nwant %s", codec.Name(), cmd.Tag(), gotJSON, wantJSON)
			}
		}
	}
}

func TestEncodeCommandCarriesVersionAndTag(t *testing.T) {
	frame, err := EncodeCommand(jsonCodec{}, &RollDiceCommand{Formula: "d20"})
	if err != nil {
		t.Fatal(err)
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatal(err)
	}
	if env.Ver != ProtocolVersion || env.Type != TagRollDice {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestCodecByName(t *testing.T) {
	for name, wantType := range map[string]string{"": "json", "json": "json", "cbor": "cbor"} {
		codec, err := CodecByName(name)
		if err != nil {
			t.Fatalf("codec %q: %v", name, err)
		}
		if codec.Name() != wantType {
			t.Fatalf("codec %q resolved to %s", name, codec.Name())
		}
	}
	if _, err := CodecByName("msgpack"); err == nil {
		t.Fatalf("unsupported codec name was accepted")
	}
}
