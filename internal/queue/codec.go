package queue

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DecodeFunc unmarshals the payload of one envelope back into an Item.
type DecodeFunc func(data []byte) (Item, error)

// Codec turns items into self-describing envelopes and back. Serializing
// backends need it; the in-memory channel passes items through untouched.
//
// The envelope is {"type": <kind>, "data": <item json>} so a consumer can
// dispatch on the type tag without trial-decoding every registered shape.
type Codec struct {
	decoders map[string]DecodeFunc
}

// NewCodec creates a Codec with no registered item kinds.
func NewCodec() *Codec {
	return &Codec{decoders: make(map[string]DecodeFunc)}
}

// Register binds a kind tag to its decoder. Later registrations win, matching
// the behavior of re-registering a handler.
func (c *Codec) Register(kind string, decode DecodeFunc) {
	c.decoders[kind] = decode
}

// Encode wraps an item in its envelope.
func (c *Codec) Encode(item Item) ([]byte, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s item: %w", item.Kind(), err)
	}

	envelope, err := sjson.SetBytes([]byte(`{}`), "type", item.Kind())
	if err != nil {
		return nil, err
	}
	envelope, err = sjson.SetRawBytes(envelope, "data", payload)
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

// Decode unwraps an envelope using the registered decoder for its type tag.
func (c *Codec) Decode(envelope []byte) (Item, error) {
	kind := gjson.GetBytes(envelope, "type").String()
	if kind == "" {
		return nil, fmt.Errorf("envelope has no type tag")
	}

	decode, ok := c.decoders[kind]
	if !ok {
		return nil, fmt.Errorf("no decoder registered for item kind %q", kind)
	}

	data := gjson.GetBytes(envelope, "data")
	if !data.Exists() {
		return nil, fmt.Errorf("envelope for %q has no data", kind)
	}
	return decode([]byte(data.Raw))
}

// JSONDecoder returns a DecodeFunc that unmarshals into a fresh T.
func JSONDecoder[T any]() DecodeFunc {
	return func(data []byte) (Item, error) {
		item := new(T)
		if err := json.Unmarshal(data, item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item: %w", err)
		}
		typed, ok := any(item).(Item)
		if !ok {
			return nil, fmt.Errorf("type %T does not implement queue.Item", item)
		}
		return typed, nil
	}
}
