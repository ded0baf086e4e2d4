// Command schema writes the JSON schema of the wire protocol so non-Go
// clients can validate the frames they build.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/spf13/pflag"

	"tabletavern/server"
)

func main() {
	var outPath string
	pflag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	pflag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	if err := writeSchema(outPath, buildSchema()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

// wireMessages is the reflection root: every frame either side may send.
type wireMessages struct {
	Snapshot  server.SnapshotMessage  `json:"snapshot"`
	Joined    server.JoinedMessage    `json:"joined"`
	Heartbeat server.HeartbeatMessage `json:"heartbeat"`

	DeleteObject    server.DeleteObjectCommand    `json:"deleteObject"`
	LockObjects     server.LockObjectsCommand     `json:"lockObjects"`
	TransformObject server.TransformObjectCommand `json:"transformObject"`
	UpdateCharacter server.UpdateCharacterCommand `json:"updateCharacter"`
	UpdateProp      server.UpdatePropCommand      `json:"updateProp"`
	ElevateRole     server.ElevateRoleCommand     `json:"elevateRole"`
	RevokeRole      server.RevokeRoleCommand      `json:"revokeRole"`
	SetSelection    server.SetSelectionCommand    `json:"setSelection"`
	AddObject       server.AddObjectCommand       `json:"addObject"`
	RollDice        server.RollDiceCommand        `json:"rollDice"`
	LoadSession     server.LoadSessionCommand     `json:"loadSession"`
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(wireMessages))
	schema.Title = "Tabletavern Wire Protocol"
	schema.Description = "Frames exchanged between session clients and the hub"
	return schema
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
