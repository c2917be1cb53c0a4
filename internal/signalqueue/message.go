package signalqueue

import (
	"encoding/json"
	"fmt"

	"github.com/palaver-chat/palaver/internal/protocol"
)

// Message is one fan-out instruction: deliver Message to every live
// connection of every user in UserIDs. The order of UserIDs carries no
// meaning.
//
// On the wire:
//
//	{"user_ids":[5],"message":{"type":"newChatMessage","data":{...}}}
type Message struct {
	UserIDs []int64          `json:"user_ids"`
	Message protocol.Message `json:"message"`
}

// wireMessage keeps the payload raw on decode so numbers and key order reach
// clients exactly as the producer wrote them.
type wireMessage struct {
	UserIDs []int64 `json:"user_ids"`
	Message struct {
		Type protocol.Type   `json:"type"`
		Data json.RawMessage `json:"data"`
	} `json:"message"`
}

// Encode serialises m for storage.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("signalqueue: encode: %w", err)
	}
	return b, nil
}

// Decode parses a stored message. The payload data is returned as a
// json.RawMessage.
func Decode(b []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Message.Type == "" {
		return Message{}, fmt.Errorf("%w: missing message type", ErrMalformed)
	}

	var data any
	if len(w.Message.Data) > 0 {
		data = w.Message.Data
	}
	return Message{
		UserIDs: w.UserIDs,
		Message: protocol.Message{Type: w.Message.Type, Data: data},
	}, nil
}

// FromOutbound converts handler output into queue messages, one per payload.
func FromOutbound(out []protocol.Outbound) []Message {
	msgs := make([]Message, 0, len(out))
	for _, o := range out {
		if len(o.UserIDs) == 0 {
			continue
		}
		msgs = append(msgs, Message{UserIDs: o.UserIDs, Message: o.Message})
	}
	return msgs
}
