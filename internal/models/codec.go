package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Binary WebSocket frames carry the same envelope encoded as CBOR, which is
// cheaper to produce on constrained devices than JSON text.

var cborEnc cbor.EncMode

var cborDec cbor.DecMode

func init() {
	var err error

	cborEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnixMicro,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Decode maps with string keys so payloads convert cleanly to JSON
	cborDec, err = cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyQuiet,
		IndefLength:    cbor.IndefLengthAllowed,
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

type cborEnvelope struct {
	Type      MessageType     `cbor:"type"`
	Payload   cbor.RawMessage `cbor:"payload,omitempty"`
	Timestamp time.Time       `cbor:"timestamp,omitempty"`
}

type cborOutbound struct {
	Type      MessageType `cbor:"type"`
	Payload   interface{} `cbor:"payload,omitempty"`
	Timestamp time.Time   `cbor:"timestamp"`
}

// DecodeCBOR decodes a binary frame into a Message whose payload is JSON
func DecodeCBOR(data []byte) (*Message, error) {
	var env cborEnvelope
	if err := cborDec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR frame: %w", err)
	}

	msg := &Message{Type: env.Type, Timestamp: env.Timestamp}
	if len(env.Payload) == 0 {
		return msg, nil
	}

	var payload interface{}
	if err := cborDec.Unmarshal(env.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR payload: %w", err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to convert CBOR payload: %w", err)
	}
	msg.Payload = payloadJSON
	return msg, nil
}

// EncodeCBOR encodes a Message as a binary frame
func EncodeCBOR(msg *Message) ([]byte, error) {
	out := cborOutbound{Type: msg.Type, Timestamp: msg.Timestamp}
	if msg.HasPayload() {
		if err := json.Unmarshal(msg.Payload, &out.Payload); err != nil {
			return nil, fmt.Errorf("failed to convert payload: %w", err)
		}
	}
	data, err := cborEnc.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR frame: %w", err)
	}
	return data, nil
}
