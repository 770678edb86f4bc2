package msg

import (
	"encoding/json"
	"fmt"
)

// AlertMsg is one chat message, or a later revision of it, as bridged
// from the signal channel.
type AlertMsg struct {
	EventID      string `json:"event_id"`
	MessageID    string `json:"message_id"`
	Revision     int    `json:"revision"`
	Edited       bool   `json:"edited"`
	Text         string `json:"text"`
	TsUnixMillis int64  `json:"ts_unix_millis"`
}

// Validate checks the fields the router relies on.
func (a AlertMsg) Validate() error {
	if a.MessageID == "" {
		return fmt.Errorf("alert: message_id is required")
	}
	if a.Revision < 0 {
		return fmt.Errorf("alert %s: negative revision", a.MessageID)
	}
	return nil
}

// DecodeAlert parses a record value.
func DecodeAlert(data []byte) (AlertMsg, error) {
	var a AlertMsg
	if err := json.Unmarshal(data, &a); err != nil {
		return AlertMsg{}, fmt.Errorf("decode alert: %w", err)
	}
	return a, a.Validate()
}

// AlertKey keys records so every revision of a message lands on the
// same partition.
func AlertKey(messageID string) string {
	return "msg-" + messageID
}
