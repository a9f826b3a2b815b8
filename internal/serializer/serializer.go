// Package serializer turns domain records into the JSON-API style documents
// pushed over WebSocket connections:
//
//	{"data":{"id":...,"type":...,"attributes":{...},"relationships":{...}}}
//
// Attributes and relationships are written in the order they are declared.
package serializer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Tyrowin/notifyws/internal/domain"
)

// Relationship describes a record field that references other resources.
type Relationship struct {
	Key  string
	Type string
}

// Schema is the fixed shape used to serialize one record type.
type Schema struct {
	Type          string
	Attributes    []string
	Relationships []Relationship
}

// Schemas for the three record types the server broadcasts.
var (
	UserSchema = Schema{
		Type:       domain.TypeUser,
		Attributes: []string{"username", "image", "bot"},
		Relationships: []Relationship{
			{Key: "rooms", Type: domain.TypeRoom},
			{Key: "state", Type: domain.TypeState},
			{Key: "messages", Type: domain.TypeMessage},
		},
	}

	RoomSchema = Schema{
		Type:       domain.TypeRoom,
		Attributes: []string{"name", "image", "private"},
		Relationships: []Relationship{
			{Key: "users", Type: domain.TypeUser},
			{Key: "messages", Type: domain.TypeMessage},
		},
	}

	MessageSchema = Schema{
		Type:       domain.TypeMessage,
		Attributes: []string{"content", "deleted"},
		Relationships: []Relationship{
			{Key: "user", Type: domain.TypeUser},
			{Key: "room", Type: domain.TypeRoom},
			{Key: "unread", Type: domain.TypeUser},
		},
	}
)

// Serialize renders record with the given schema.
func (s Schema) Serialize(record domain.Record) ([]byte, error) {
	return Serialize(record, s.Type, s.Attributes, s.Relationships)
}

type resourceID struct {
	Type string `json:"type"`
	ID   any    `json:"id"`
}

// Serialize renders record as a document of the given type. Missing
// attributes are written as null; no field is validated.
func Serialize(record domain.Record, typ string, attributes []string, relationships []Relationship) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(`{"data":{"id":`)
	if err := writeValue(&buf, record["id"]); err != nil {
		return nil, fmt.Errorf("serialize id: %w", err)
	}
	buf.WriteString(`,"type":`)
	if err := writeValue(&buf, typ); err != nil {
		return nil, err
	}

	buf.WriteString(`,"attributes":{`)
	for i, key := range attributes {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, key, record[key]); err != nil {
			return nil, fmt.Errorf("serialize attribute %q: %w", key, err)
		}
	}

	buf.WriteString(`},"relationships":{`)
	for i, rel := range relationships {
		if i > 0 {
			buf.WriteByte(',')
		}
		data := map[string]any{"data": linkage(record[rel.Key], rel.Type)}
		if err := writeMember(&buf, rel.Key, data); err != nil {
			return nil, fmt.Errorf("serialize relationship %q: %w", rel.Key, err)
		}
	}
	buf.WriteString(`}}}`)

	return buf.Bytes(), nil
}

// linkage maps a sequence to ordered resource identifiers and anything else to
// a single identifier.
func linkage(value any, typ string) any {
	switch ids := value.(type) {
	case []any:
		out := make([]resourceID, len(ids))
		for i, id := range ids {
			out[i] = resourceID{Type: typ, ID: id}
		}
		return out
	case []string:
		out := make([]resourceID, len(ids))
		for i, id := range ids {
			out[i] = resourceID{Type: typ, ID: id}
		}
		return out
	default:
		return resourceID{Type: typ, ID: value}
	}
}

func writeMember(buf *bytes.Buffer, key string, value any) error {
	if err := writeValue(buf, key); err != nil {
		return err
	}
	buf.WriteByte(':')
	return writeValue(buf, value)
}

func writeValue(buf *bytes.Buffer, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
