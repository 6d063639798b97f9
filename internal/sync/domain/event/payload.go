package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload is the advisory JSON context attached to one event row. It gives
// human-readable hints (title, action taken); consumers re-fetch the entity
// for current state instead of trusting these values.
type Payload map[string]any

// BuildPayload shapes the advisory payload for one fan-out row.
//
// Vote, close, and notification events get typed payloads; every other type
// copies the fan-out rule's declared fields verbatim.
func BuildPayload(t Type, rule FanOut, data map[string]string, action string) ([]byte, error) {
	payload := Payload{}
	if strings.TrimSpace(action) != "" {
		payload["action"] = action
	}

	switch t {
	case TypeTextVoted:
		if rule.Table == TableTexts {
			if raw := strings.TrimSpace(data["votes"]); raw != "" {
				votes, err := strconv.Atoi(raw)
				if err != nil {
					return nil, fmt.Errorf("parse votes: %w", err)
				}
				payload["votes"] = votes
			}
			payload["isWinner"] = strings.EqualFold(data["isWinner"], "true")
		}
	case TypeGameClosed:
		payload["reason"] = data["reason"]
	case TypeNotificationCreated:
		payload["kind"] = data["kind"]
		if title := strings.TrimSpace(data["title"]); title != "" {
			payload["title"] = title
		}
	default:
		for _, field := range rule.PayloadFields {
			if value, ok := data[field]; ok {
				payload[field] = value
			}
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return encoded, nil
}

// ParsePayload decodes an advisory payload. Missing or empty payloads decode
// to an empty map.
func ParsePayload(raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return Payload{}, nil
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload == nil {
		payload = Payload{}
	}
	return payload, nil
}
