package bridge

import (
	"fmt"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	structpb "github.com/golang/protobuf/ptypes/struct"

	"github.com/robotalks/uartlink/pkg/uart"
)

// Codec converts messages to and from bridge payloads.
type Codec interface {
	Encode(Message) ([]byte, error)
	// Decode returns the message in payload. Fields the payload doesn't
	// carry are left zero.
	Decode(payload []byte) (Message, error)
}

// NewCodec creates a Codec by name: text or proto.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "text":
		return TextCodec{}, nil
	case "proto":
		return ProtoCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// TextCodec carries the message text only.
type TextCodec struct{}

// Encode implements Codec.
func (TextCodec) Encode(msg Message) ([]byte, error) {
	return []byte(msg.Text), nil
}

// Decode implements Codec.
func (TextCodec) Decode(payload []byte) (Message, error) {
	return Message{Dir: Outbound, Text: string(payload)}, nil
}

// ProtoCodec encodes messages as google.protobuf.Struct.
type ProtoCodec struct{}

// Encode implements Codec.
func (ProtoCodec) Encode(msg Message) ([]byte, error) {
	fields := map[string]*structpb.Value{
		"port":      stringValue(msg.Port.String()),
		"direction": stringValue(msg.Dir.String()),
		"text":      stringValue(msg.Text),
	}
	if !msg.Time.IsZero() {
		ts, err := ptypes.TimestampProto(msg.Time)
		if err != nil {
			return nil, err
		}
		fields["time"] = stringValue(ptypes.TimestampString(ts))
	}
	return proto.Marshal(&structpb.Struct{Fields: fields})
}

// Decode implements Codec.
func (ProtoCodec) Decode(payload []byte) (msg Message, err error) {
	var s structpb.Struct
	if err = proto.Unmarshal(payload, &s); err != nil {
		return
	}
	msg.Dir = Outbound
	msg.Text = s.Fields["text"].GetStringValue()
	if val := s.Fields["port"].GetStringValue(); val != "" {
		if msg.Port, err = uart.ParsePortID(val); err != nil {
			return
		}
	}
	if val := s.Fields["direction"].GetStringValue(); val != "" {
		dir, ok := ParseDirection(val)
		if !ok {
			return msg, fmt.Errorf("invalid direction %q", val)
		}
		msg.Dir = dir
	}
	if val := s.Fields["time"].GetStringValue(); val != "" {
		if msg.Time, err = time.Parse(time.RFC3339Nano, val); err != nil {
			return
		}
	}
	return
}

func stringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}
