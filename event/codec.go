package event

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes bus messages. Both ends of a channel must agree on
// the codec; JSON is the default.
type Codec interface {
	// Encode serializes a message to bytes.
	Encode(m *Message) ([]byte, error)

	// Decode deserializes bytes into a message.
	Decode(data []byte) (*Message, error)

	// Name returns the codec identifier.
	Name() string
}

// Codec name constants.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// CodecByName returns a codec by name. Defaults to JSON.
func CodecByName(name string) Codec {
	if name == CodecNameMsgpack {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

// JSONCodec encodes messages as JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSONCodec) Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (JSONCodec) Name() string { return CodecNameJSON }

// MsgpackCodec encodes messages as MessagePack, for producers pushing
// high event volumes where encode cost matters.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(m *Message) ([]byte, error) {
	return msgpack.Marshal(m)
}

func (MsgpackCodec) Decode(data []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (MsgpackCodec) Name() string { return CodecNameMsgpack }
