package centrifuge

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/jpillora/backoff"
)

const backoffFactor = 2

func newBackoff(min, max time.Duration) *backoff.Backoff {
	return &backoff.Backoff{
		Min:    min,
		Max:    max,
		Factor: backoffFactor,
		Jitter: true,
	}
}

// signal is a replaceable one-shot completion. It resolves at most once,
// with or without an error; waiters select on ch and then read err.
type signal struct {
	ch  chan struct{}
	err error
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) resolve() {
	close(s.ch)
}

func (s *signal) fail(err error) {
	s.err = err
	close(s.ch)
}

func (s *signal) resolved() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// decodeData converts a wire data payload into application bytes. Binary
// codecs carry data base64-encoded inside a JSON string; the textual codec
// passes raw JSON through.
func decodeData(binary bool, raw json.RawMessage) []byte {
	if raw == nil {
		return nil
	}
	if binary {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return raw
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return raw
		}
		return decoded
	}
	return raw
}

// encodeData converts application bytes into a wire data payload. With the
// textual codec data must itself be valid JSON.
func encodeData(binary bool, data []byte) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if binary {
		return json.Marshal(base64.StdEncoding.EncodeToString(data))
	}
	if !json.Valid(data) {
		return nil, errInternal("data must be valid JSON when using the JSON protocol")
	}
	return json.RawMessage(data), nil
}
