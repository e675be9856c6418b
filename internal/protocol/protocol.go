// Package protocol defines the frames exchanged with presentation surfaces
// over a session.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/yangwenmai/infographer/internal/model"
)

// RequestType names a surface-initiated request.
type RequestType string

const (
	Announce   RequestType = "announce"
	Generate   RequestType = "generate"
	Status     RequestType = "status"
	Credential RequestType = "credential"
)

// ReplyType is the frame type of every reply.
const ReplyType = "reply"

// Request is an inbound frame. ID is echoed as reply_to.
type Request struct {
	ID      string      `json:"id"`
	Type    RequestType `json:"type"`
	Address string      `json:"address,omitempty"`
}

// Reply answers exactly one Request.
type Reply struct {
	Type          string              `json:"type"`
	ReplyTo       string              `json:"reply_to"`
	Success       bool                `json:"success"`
	Enabled       bool                `json:"enabled,omitempty"`
	HasCredential bool                `json:"has_credential,omitempty"`
	Record        *model.StatusRecord `json:"record,omitempty"`
	ImageURL      string              `json:"image_url,omitempty"`
	Error         string              `json:"error,omitempty"`
	Kind          model.Kind          `json:"kind,omitempty"`
}

// NewReply returns a successful reply to id.
func NewReply(id string) Reply {
	return Reply{Type: ReplyType, ReplyTo: id, Success: true}
}

// ErrorReply returns a failed reply carrying err's message and kind.
func ErrorReply(id string, err error) Reply {
	return Reply{Type: ReplyType, ReplyTo: id, Error: err.Error(), Kind: model.KindOf(err)}
}

const requestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "type"],
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string", "minLength": 1, "maxLength": 128},
    "type": {"enum": ["announce", "generate", "status", "credential"]},
    "address": {"type": "string", "maxLength": 4096}
  },
  "if": {"properties": {"type": {"enum": ["announce", "generate", "status"]}}},
  "then": {"required": ["address"]}
}`

var compiledRequestSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(requestSchema)))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("request.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("request.json")
})

// DecodeRequest validates an inbound frame and decodes it.
func DecodeRequest(data []byte) (*Request, error) {
	sch, err := compiledRequestSchema()
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &req, nil
}

// FrameID extracts the id of a frame that failed validation, so the error
// reply can still be correlated. It returns "" when there is none.
func FrameID(data []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(data, &probe) != nil {
		return ""
	}
	return probe.ID
}

// serverFrame is the union of Reply and model.Event as seen on the wire.
type serverFrame struct {
	Reply
	Key    string       `json:"video_id,omitempty"`
	Status model.Status `json:"status,omitempty"`
}

// DecodeServerFrame splits an outbound frame into either a reply or a push.
func DecodeServerFrame(data []byte) (*Reply, *model.Event, error) {
	var f serverFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("decode server frame: %w", err)
	}
	if f.Type == ReplyType {
		return &f.Reply, nil, nil
	}
	if f.Type == "" {
		return nil, nil, fmt.Errorf("decode server frame: missing type")
	}
	return nil, &model.Event{
		Type:        model.EventType(f.Type),
		Key:         f.Key,
		Status:      f.Status,
		ArtifactURL: f.ImageURL,
		ErrorDetail: f.Error,
	}, nil
}
