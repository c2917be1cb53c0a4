// Package protocol defines the JSON envelope exchanged with chat clients and
// carried on the signal queue. Every frame, in either direction, has the
// shape:
//
//	{"type":"newChatMessage","data":{"chatId":1,"text":"Hello!"}}
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type identifies the kind of event carried by a frame.
type Type string

const (
	// Inbound only.
	TypeOnlineStatusTracingAdding Type = "onlineStatusTracingAdding"

	// Inbound and outbound.
	TypeNewChat              Type = "newChat"
	TypeNewChatMessage       Type = "newChatMessage"
	TypeNewChatMessageTyping Type = "newChatMessageTyping"

	// Inbound read acknowledgement. Both spellings are accepted.
	TypeChatMessageWasRead Type = "chatMessageWasRead"
	TypeMessageWasRead     Type = "messageWasRead"

	// Outbound only.
	TypeInterlocutorsOnlineStatuses Type = "interlocutorsOnlineStatuses"
	TypeNewUnreadCount              Type = "newUnreadCount"
	TypeReadChatMessages            Type = "readChatMessages"
)

// Frame is an inbound client frame. Data is kept raw until the handler for
// Type decodes it into its own request struct.
type Frame struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeFrame parses a raw websocket text frame. A frame without a type is
// rejected.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("protocol: decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("protocol: decode frame: missing type")
	}
	return f, nil
}

// Message is an outbound frame. Data is any JSON-encodable value; messages
// read back from the signal queue carry a json.RawMessage so the payload is
// forwarded byte-for-byte.
type Message struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// Encode renders m as the JSON text sent on the wire.
func (m Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Outbound pairs a message with the users it must reach. Event handlers
// return a slice of these and leave the actual delivery to the caller.
type Outbound struct {
	UserIDs []int64
	Message Message
}

// To is a small constructor used by the event handlers.
func To(msg Message, userIDs ...int64) Outbound {
	return Outbound{UserIDs: userIDs, Message: msg}
}
