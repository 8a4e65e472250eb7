package shared

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/oklog/ulid/v2"
)

// DefaultKey is the group key used when none is given.
const DefaultKey = "root"

const topicPrefix = "shared"

// UpdateTopic is the broadcast topic of group key.
func UpdateTopic(key string) string {
	return topicPrefix + ":update:" + key
}

// RequestTopic is the sync request topic of group key.
func RequestTopic(key string) string {
	return topicPrefix + ":get:" + key
}

// ResponseTopic is the sync response topic addressed to handle id.
func ResponseTopic(key, id string) string {
	return topicPrefix + ":set:" + key + ":" + id
}

// Envelope is the message exchanged on every topic.
type Envelope[T any] struct {
	ID          string `json:"id"`
	Data        *T     `json:"data,omitempty"`
	InitialData *T     `json:"initialData,omitempty"`
}

// NewID returns a fresh handle id.
func NewID() string {
	return "shv-" + strings.ToLower(ulid.Make().String())
}

func encodeEnvelope[T any](env Envelope[T]) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, ErrEncode.WithCause(err)
	}
	return b, nil
}

// decodeEnvelope parses payload. It reports false for absent, null or
// malformed payloads and for envelopes without an id.
func decodeEnvelope[T any](payload []byte) (Envelope[T], bool) {
	var env Envelope[T]
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return env, false
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return env, false
	}
	return env, env.ID != ""
}

func encodeValue[T any](v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, ErrEncode.WithCause(err)
	}
	return b, nil
}

func decodeValue[T any](raw []byte) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
