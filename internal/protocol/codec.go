package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Codec serializes a batch of commands into one transport frame and parses
// a transport frame into the replies it contains, in server-issued order.
type Codec interface {
	// Name identifies the codec. Subprotocol negotiation is driven by
	// Binary, not by Name.
	Name() string
	// Binary reports whether frames must be sent as binary websocket
	// messages. Binary codecs carry data payloads base64-encoded.
	Binary() bool
	// EncodeCommands serializes a batch of commands into a single frame.
	EncodeCommands(cmds []*Command) ([]byte, error)
	// DecodeReplies parses a frame into one or more replies.
	DecodeReplies(frame []byte) ([]*Reply, error)
}

// JSONCodec frames commands and replies as newline-delimited JSON objects.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Binary implements Codec.
func (JSONCodec) Binary() bool { return false }

// EncodeCommands implements Codec.
func (JSONCodec) EncodeCommands(cmds []*Command) ([]byte, error) {
	var buf bytes.Buffer
	for i, cmd := range cmds {
		if i > 0 {
			buf.WriteByte('\n')
		}
		data, err := json.Marshal(cmd)
		if err != nil {
			return nil, fmt.Errorf("encode command %d: %w", cmd.ID, err)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// DecodeReplies implements Codec.
func (JSONCodec) DecodeReplies(frame []byte) ([]*Reply, error) {
	var replies []*Reply
	for _, line := range bytes.Split(frame, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		reply := &Reply{}
		if err := json.Unmarshal(line, reply); err != nil {
			return nil, fmt.Errorf("decode reply: %w", err)
		}
		replies = append(replies, reply)
	}
	return replies, nil
}
