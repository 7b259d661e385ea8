// Package messenger implements the federation's pub/sub transport
// (spec.md §4.4): one producer socket this node publishes on, and one
// consumer socket per peer it subscribes to. The wire format and topic
// semantics are ported line-for-line from the ZeroMQ PUB/SUB messenger
// the original daemon used; gorilla/websocket stands in for zmq, which
// has no Go binding in this corpus.
package messenger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Topic identifies the kind of message on the wire, matching
// zmqmessenger.py's TOPIC_NEW_BLOCK / TOPIC_NEW_SIG constants exactly so
// a mixed-version federation still agrees on topic numbers.
type Topic string

const (
	TopicNewBlock Topic = "10"
	TopicNewSig   Topic = "20"
)

// BlockMessage is the payload published on TopicNewBlock.
type BlockMessage struct {
	Height int64  `json:"height"`
	Block  string `json:"block"`
}

// SigMessage is the payload published on TopicNewSig.
type SigMessage struct {
	Height int64  `json:"height"`
	Sig    string `json:"sig"`
}

var (
	ErrUnknownTopic  = errors.New("messenger: unknown topic")
	ErrMalformedWire = errors.New("messenger: malformed wire frame")
)

// Mogrify encodes topic and msg into the wire frame "<topic> <json>",
// matching zmqmessenger.py's mogrify().
func Mogrify(topic Topic, msg interface{}) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("messenger: marshal: %w", err)
	}
	return string(topic) + " " + string(body), nil
}

// Demogrify splits a wire frame back into its topic and raw JSON body,
// matching zmqmessenger.py's demogrify(): it finds the first '{' and
// treats everything before it (trimmed) as the topic.
func Demogrify(frame string) (Topic, json.RawMessage, error) {
	idx := strings.IndexByte(frame, '{')
	if idx < 0 {
		return "", nil, fmt.Errorf("%w: no json body in %q", ErrMalformedWire, frame)
	}
	topic := strings.TrimSpace(frame[:idx])
	if topic == "" {
		return "", nil, fmt.Errorf("%w: empty topic in %q", ErrMalformedWire, frame)
	}
	return Topic(topic), json.RawMessage(frame[idx:]), nil
}

// decodeHeight extracts the "height" field that both BlockMessage and
// SigMessage payloads carry.
func decodeHeight(raw json.RawMessage) (int64, error) {
	var probe struct {
		Height int64 `json:"height"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, err
	}
	return probe.Height, nil
}

// ParseAddr splits a "host:port" endpoint string the way the original
// federation.py nodes list does (node.split(':', 1)).
func ParseAddr(addr string) (host string, port int, err error) {
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("%w: expected host:port, got %q", ErrMalformedWire, addr)
	}
	port, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, fmt.Errorf("%w: invalid port in %q: %v", ErrMalformedWire, addr, err)
	}
	return parts[0], port, nil
}
