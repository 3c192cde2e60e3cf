package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Content types understood by Decode.
const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
	// ContentTypeHeader is the Kafka message header carrying the content type.
	ContentTypeHeader = "content-type"
)

// Decode parses an event payload. Protobuf payloads are google.protobuf.Struct
// messages; everything else is treated as JSON.
func Decode(value []byte, contentType string) (*Event, error) {
	if strings.EqualFold(strings.TrimSpace(contentType), ContentTypeProtobuf) {
		return DecodeProto(value)
	}
	return DecodeJSON(value)
}

// DecodeJSON parses a JSON object into an Event.
func DecodeJSON(value []byte) (*Event, error) {
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event JSON: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("event payload is not an object")
	}
	return FromMap(m)
}

// DecodeProto parses a protobuf Struct into an Event.
func DecodeProto(value []byte) (*Event, error) {
	var pb structpb.Struct
	if err := proto.Unmarshal(value, &pb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event protobuf: %w", err)
	}
	return FromMap(pb.AsMap())
}

// EncodeJSON serializes the event in its flat wire form.
func EncodeJSON(e *Event) ([]byte, error) {
	data, err := json.Marshal(e.ToMap())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// EncodeProto serializes the event as a protobuf Struct.
func EncodeProto(e *Event) ([]byte, error) {
	pb, err := structpb.NewStruct(e.ToMap())
	if err != nil {
		return nil, fmt.Errorf("failed to build event struct: %w", err)
	}
	data, err := proto.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event protobuf: %w", err)
	}
	return data, nil
}
