package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// envelope is the JSON shape of a Message on the wire.
type envelope struct {
	ID        string          `json:"id,omitempty"`
	Kind      Kind            `json:"kind"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Sender    string          `json:"sender,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes m as a single-line JSON object without a trailing newline.
func Encode(m Message) ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("encode message: %w: %q", ErrUnknownKind, m.Kind)
	}
	payload := m.Payload
	if payload == nil {
		return nil, fmt.Errorf("encode %s message: missing payload", m.Kind)
	}
	if p, ok := payload.(UsersPayload); ok && p.Usernames == nil {
		payload = UsersPayload{Usernames: []string{}}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Kind, err)
	}

	env := envelope{
		Kind:    m.Kind,
		Sender:  m.Sender,
		Payload: raw,
	}
	if m.ID != uuid.Nil {
		env.ID = m.ID.String()
	}
	if !m.Timestamp.IsZero() {
		ts := m.Timestamp
		env.Timestamp = &ts
	}
	return json.Marshal(env)
}

// Decode parses one wire message. Clients may omit id and timestamp; both
// are filled in. Errors are always *DecodeError.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(bytes.TrimSpace(data), &env); err != nil {
		return Message{}, &DecodeError{Err: ErrMalformed, Cause: err}
	}
	if !env.Kind.Valid() {
		return Message{}, &DecodeError{Err: ErrUnknownKind, Cause: fmt.Errorf("kind %q", env.Kind)}
	}

	m := Message{
		ID:        uuid.New(),
		Kind:      env.Kind,
		Timestamp: time.Now().UTC(),
		Sender:    env.Sender,
	}
	if env.ID != "" {
		id, err := uuid.Parse(env.ID)
		if err != nil {
			return Message{}, &DecodeError{Err: ErrMalformed, Cause: fmt.Errorf("id: %w", err)}
		}
		m.ID = id
	}
	if env.Timestamp != nil {
		m.Timestamp = env.Timestamp.UTC()
	}

	payload, err := decodePayload(env.Kind, env.Payload)
	if err != nil {
		return Message{}, &DecodeError{Err: ErrMalformed, Cause: fmt.Errorf("%s payload: %w", env.Kind, err)}
	}
	m.Payload = payload
	return m, nil
}

func decodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	switch kind {
	case KindConnect:
		var p ConnectPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindDisconnect, KindConnectAck, KindDisconnectAck:
		var p EmptyPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindSendText, KindTextDelivered:
		var p TextPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindListUsers, KindUserListing:
		var p UsersPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Usernames == nil {
			p.Usernames = []string{}
		}
		return p, nil
	case KindErrorNotice:
		var p ErrorPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, ErrUnknownKind
}

// strictUnmarshal rejects fields that belong to another payload variant.
// A missing or null payload leaves v at its zero value.
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
