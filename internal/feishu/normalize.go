// Package feishu adapts the Feishu open platform to the pipeline: it
// normalizes inbound webhook payloads into report events, renders the
// summary card, and talks to the messaging and report APIs.
package feishu

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/herald/internal/period"
	"github.com/MikeSquared-Agency/herald/internal/report"
)

var (
	ErrUnsupportedPayload = errors.New("payload matches no known webhook shape")
	ErrTokenMismatch      = errors.New("verification token mismatch")
)

type EventHeader struct {
	EventID   string `json:"event_id"`
	Token     string `json:"token"`
	EventType string `json:"event_type"`
}

// Sender is the message author. Newer event versions nest the ids
// under sender_id; UnmarshalJSON folds them into the flat fields.
type Sender struct {
	UserID  string `json:"user_id"`
	OpenID  string `json:"open_id"`
	UnionID string `json:"union_id"`
	Name    string `json:"name"`
}

func (s *Sender) UnmarshalJSON(data []byte) error {
	type senderAlias Sender
	aux := struct {
		*senderAlias
		SenderID *senderAlias `json:"sender_id"`
	}{senderAlias: (*senderAlias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.SenderID != nil {
		if aux.SenderID.UserID != "" {
			s.UserID = aux.SenderID.UserID
		}
		if aux.SenderID.OpenID != "" {
			s.OpenID = aux.SenderID.OpenID
		}
		if aux.SenderID.UnionID != "" {
			s.UnionID = aux.SenderID.UnionID
		}
	}
	return nil
}

// PreferredUserID picks the most stable identifier available.
func (s Sender) PreferredUserID() string {
	switch {
	case s.UserID != "":
		return s.UserID
	case s.OpenID != "":
		return s.OpenID
	case s.UnionID != "":
		return s.UnionID
	default:
		return "unknown"
	}
}

type Message struct {
	MessageID   string `json:"message_id"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	CreateTime  string `json:"create_time"`
	Sender      Sender `json:"sender"`
}

type EventBody struct {
	Message Message `json:"message"`
}

type Envelope struct {
	Schema string      `json:"schema,omitempty"`
	Header EventHeader `json:"header"`
	Event  EventBody   `json:"event"`
}

// challengeProbe is the endpoint verification handshake Feishu sends
// when a webhook URL is first configured.
type challengeProbe struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
}

// IsChallenge reports whether raw is a url_verification probe and, if
// so, returns the challenge string to echo back.
func IsChallenge(raw []byte) (string, bool) {
	var probe challengeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", false
	}
	if probe.Type != "url_verification" || probe.Challenge == "" {
		return "", false
	}
	return probe.Challenge, true
}

// simplePayload is the reduced submission shape used by internal tools
// and the message bus: just an author and the report text.
type simplePayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Text     string `json:"text"`
}

// NormalizePayload accepts either the full Feishu event envelope or the
// reduced {user_id,user_name,text} submission and returns a uniform
// envelope. Reduced submissions are stamped with the configured token
// so they pass verification downstream.
func NormalizePayload(raw []byte, verificationToken string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Event.Message.MessageID != "" {
		return &env, nil
	}

	var simple simplePayload
	if err := json.Unmarshal(raw, &simple); err != nil || simple.Text == "" {
		return nil, ErrUnsupportedPayload
	}

	content, _ := json.Marshal(map[string]string{"text": simple.Text})
	return &Envelope{
		Header: EventHeader{
			EventID:   uuid.NewString(),
			Token:     verificationToken,
			EventType: "im.message.receive_v1",
		},
		Event: EventBody{Message: Message{
			MessageID:   uuid.NewString(),
			MessageType: "text",
			Content:     string(content),
			CreateTime:  strconv.FormatInt(time.Now().UnixMilli(), 10),
			Sender: Sender{
				UserID: simple.UserID,
				Name:   simple.UserName,
			},
		}},
	}, nil
}

// VerifyToken checks the envelope token against the configured one.
// An empty expected token disables verification (open deployment).
func VerifyToken(env *Envelope, expected string) error {
	if expected == "" {
		return nil
	}
	if env.Header.Token != expected {
		return ErrTokenMismatch
	}
	return nil
}

// BuildEvent turns a normalized envelope into a report event: message
// text extracted per message type, the period inferred from the text at
// the message date.
func BuildEvent(env *Envelope) (report.Event, error) {
	msg := env.Event.Message

	ts, err := parseCreateTime(msg.CreateTime)
	if err != nil {
		return report.Event{}, fmt.Errorf("parse create_time %q: %w", msg.CreateTime, err)
	}

	text := extractText(msg.MessageType, msg.Content)
	periodType, start, end := period.Detect(text, ts)

	userID := msg.Sender.PreferredUserID()
	userName := msg.Sender.Name
	if userName == "" {
		userName = userID
	}

	return report.Event{
		UserID:      userID,
		UserName:    userName,
		PeriodType:  periodType,
		PeriodStart: start,
		PeriodEnd:   end,
		RawText:     text,
		MessageTS:   ts,
	}, nil
}

// parseCreateTime handles both epoch precisions Feishu uses:
// milliseconds for events, seconds for older payloads.
func parseCreateTime(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if len(value) > 10 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

// extractText recovers plain text from the serialized message content.
// Unparsable content passes through untouched, unknown message types
// are re-serialized so nothing is silently dropped.
func extractText(messageType, content string) string {
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return content
	}
	if messageType == "text" {
		if text, ok := payload["text"].(string); ok {
			return text
		}
	}
	if messageType == "post" {
		return flattenPost(payload)
	}
	reserialized, err := json.Marshal(payload)
	if err != nil {
		return content
	}
	return string(reserialized)
}

// flattenPost collects the leaf text runs of a rich-text message in
// document order.
func flattenPost(payload map[string]any) string {
	content, _ := payload["content"].([]any)
	var parts []string
	for _, row := range content {
		blocks, ok := row.([]any)
		if !ok {
			continue
		}
		for _, block := range blocks {
			item, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := item["text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, "\n")
}
