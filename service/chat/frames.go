package chat

import (
	"encoding/json"
	"fmt"
	"time"

	decode "PRelay/tools/decode"
)

// Frame is the JSON envelope on the wire, both directions.
type Frame struct {
	Type        string         `json:"type"`
	TS          int64          `json:"ts,omitempty"`
	ConnID      string         `json:"conn_id,omitempty"`
	ClientMsgID string         `json:"client_msg_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	frame := &Frame{}
	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return frame, nil
}

// BuildEvent marshals an outbound event frame. data may be a struct or map.
func BuildEvent(event, clientMsgID string, data any) []byte {
	var m map[string]any
	if data != nil {
		b, _ := json.Marshal(data)
		_ = json.Unmarshal(b, &m)
	}
	f := &Frame{
		Type:        event,
		TS:          time.Now().UnixMilli(),
		ClientMsgID: clientMsgID,
		Data:        m,
	}
	b, _ := json.Marshal(f)
	return b
}

// ---- inbound payloads ----

type ConnectPayload struct {
	Token string `json:"token"`
}

type SendPayload struct {
	ChatType    string   `json:"chat_type"`
	TargetID    string   `json:"target_id"`
	PeerID      string   `json:"peer_id,omitempty"` // private chats
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
	ReplyTo     string   `json:"reply_to,omitempty"`
}

type EditPayload struct {
	ChatType  string `json:"chat_type"`
	TargetID  string `json:"target_id"`
	PeerID    string `json:"peer_id,omitempty"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

type ReadPayload struct {
	ChatType  string `json:"chat_type"`
	TargetID  string `json:"target_id"`
	PeerID    string `json:"peer_id,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
}

type TypingPayload struct {
	ChatType string `json:"chat_type"`
	TargetID string `json:"target_id"`
	PeerID   string `json:"peer_id,omitempty"`
}

type StatusPayload struct {
	ChatType string `json:"chat_type"`
	TargetID string `json:"target_id"`
}

func PayloadAs[T any](f *Frame) (*T, error) {
	return decode.DecodeMap[T](f.Data)
}
