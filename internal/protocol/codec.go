package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Decoding errors.
var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Encode serializes a message for the wire.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// MustEncode is Encode for messages built by this package's constructors,
// whose payloads always marshal.
func MustEncode(msg Message) []byte {
	data, err := Encode(msg)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %s: %v", msg.Type, err))
	}

	return data
}

type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PeekType returns the message tag without decoding the payload.
func PeekType(data []byte) (MessageType, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return env.Type, nil
}

// Decode parses a wire message into a Message with a typed payload.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := Message{Type: env.Type}

	var err error

	// Parse payload based on message type
	switch env.Type {
	case MessageTypeJoin:
		msg.Payload, err = decodePayload[JoinPayload](env.Payload)
	case MessageTypeLeave:
		msg.Payload, err = decodePayload[LeavePayload](env.Payload)
	case MessageTypePresenceSnapshot:
		msg.Payload, err = decodePayload[PresenceSnapshotPayload](env.Payload)
	case MessageTypeCursorUpdate:
		msg.Payload, err = decodePayload[CursorUpdatePayload](env.Payload)
	case MessageTypeContentUpdate:
		msg.Payload, err = decodePayload[ContentUpdatePayload](env.Payload)
	case MessageTypeDocumentRequest:
		msg.Payload, err = decodePayload[DocumentRequestPayload](env.Payload)
	case MessageTypeDocumentSnapshot:
		msg.Payload, err = decodePayload[DocumentSnapshotPayload](env.Payload)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return Message{}, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}

	return msg, nil
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var payload T
	if len(raw) == 0 || string(raw) == "null" {
		return payload, nil
	}

	err := json.Unmarshal(raw, &payload)

	return payload, err
}
