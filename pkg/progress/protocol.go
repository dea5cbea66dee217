package progress

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordSeparator terminates every JSON record on the hub wire
const RecordSeparator = 0x1E

// Hub message types
const (
	MessageInvocation = 1
	MessageStreamItem = 2
	MessageCompletion = 3
	MessagePing       = 6
	MessageClose      = 7
)

// Hub method names
const (
	TargetProgressUpdate = "ProgressUpdate"
	TargetJoinGroup      = "JoinMigrationGroup"
	TargetLeaveGroup     = "LeaveMigrationGroup"
)

// HandshakeRequest opens the hub protocol on a new transport
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is {} on success or carries an error
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// Message is the union of all hub messages; Type selects the fields used
type Message struct {
	Type           int               `json:"type"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// EncodeRecord marshals v and appends the record separator
func EncodeRecord(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hub message: %w", err)
	}
	return append(data, RecordSeparator), nil
}

// SplitRecords splits a transport frame into records. A frame may carry
// several records; a trailing fragment without separator is returned as
// rest so the caller can prepend it to the next frame.
func SplitRecords(data []byte) (records [][]byte, rest []byte) {
	for {
		i := bytes.IndexByte(data, RecordSeparator)
		if i < 0 {
			return records, data
		}
		if rec := bytes.TrimSpace(data[:i]); len(rec) > 0 {
			records = append(records, rec)
		}
		data = data[i+1:]
	}
}

// newInvocation builds a client-to-server invocation
func newInvocation(id, target string, args ...any) (Message, error) {
	msg := Message{Type: MessageInvocation, Target: target, InvocationID: id}
	for _, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return Message{}, fmt.Errorf("failed to encode %s argument: %w", target, err)
		}
		msg.Arguments = append(msg.Arguments, raw)
	}
	return msg, nil
}
