package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xaenox/line-relay/internal/models"
)

var ErrMalformedPayload = errors.New("malformed webhook payload")

// MalformedPayloadError describes why a webhook body could not be decoded
type MalformedPayloadError struct {
	Reason string
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrMalformedPayload, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrMalformedPayload, e.Reason)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

func (e *MalformedPayloadError) Is(target error) bool { return target == ErrMalformedPayload }

// Event is one member of a webhook envelope. The set of implementations is
// closed: TextMessageEvent and OtherEvent.
type Event interface {
	isEvent()
}

// TextMessageEvent is a text message sent by a known user
type TextMessageEvent struct {
	models.InboundEvent
}

// OtherEvent is any envelope member this relay does not store (follow,
// unfollow, postback, non-text messages, messages without a user id).
type OtherEvent struct {
	Type        string
	MessageType string
}

func (TextMessageEvent) isEvent() {}
func (OtherEvent) isEvent()       {}

type envelope struct {
	Destination string             `json:"destination"`
	Events      *[]json.RawMessage `json:"events"`
}

type rawEvent struct {
	Type            *string          `json:"type"`
	ReplyToken      string           `json:"replyToken"`
	WebhookEventID  string           `json:"webhookEventId"`
	Source          *rawSource       `json:"source"`
	Message         *json.RawMessage `json:"message"`
	DeliveryContext *struct {
		IsRedelivery bool `json:"isRedelivery"`
	} `json:"deliveryContext"`
}

type rawSource struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type rawMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// DecodeEvents decodes every member of the envelope in arrival order. On
// error no events are returned.
func DecodeEvents(body []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &MalformedPayloadError{Reason: "body is not a JSON object"}
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &MalformedPayloadError{Reason: "decode envelope", Err: err}
	}
	if env.Events == nil {
		return nil, &MalformedPayloadError{Reason: "events array is required"}
	}

	events := make([]Event, 0, len(*env.Events))
	for i, raw := range *env.Events {
		ev, err := decodeEvent(raw)
		if err != nil {
			return nil, &MalformedPayloadError{Reason: fmt.Sprintf("event %d", i), Err: err}
		}
		events = append(events, ev)
	}
	return events, nil
}

// Parse returns the text message events of the envelope in arrival order.
// It is the text-only projection of DecodeEvents; the relay itself decodes
// with DecodeEvents so it can account for the events it skips.
func Parse(body []byte) ([]models.InboundEvent, error) {
	events, err := DecodeEvents(body)
	if err != nil {
		return nil, err
	}

	inbound := make([]models.InboundEvent, 0, len(events))
	for _, ev := range events {
		if text, ok := ev.(TextMessageEvent); ok {
			inbound = append(inbound, text.InboundEvent)
		}
	}
	return inbound, nil
}

func decodeEvent(raw json.RawMessage) (Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("event is not an object")
	}

	var ev rawEvent
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, err
	}
	if ev.Type == nil {
		return nil, errors.New("event type is required")
	}
	if *ev.Type != "message" {
		return OtherEvent{Type: *ev.Type}, nil
	}

	if ev.Message == nil || !bytes.HasPrefix(bytes.TrimSpace(*ev.Message), []byte("{")) {
		return nil, errors.New("message event without message object")
	}
	var msg rawMessage
	if err := json.Unmarshal(*ev.Message, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	if msg.Type != "text" || ev.Source == nil || ev.Source.UserID == "" {
		return OtherEvent{Type: *ev.Type, MessageType: msg.Type}, nil
	}

	inbound := models.InboundEvent{
		SourceUserID:   ev.Source.UserID,
		Text:           msg.Text,
		ReplyToken:     ev.ReplyToken,
		WebhookEventID: ev.WebhookEventID,
	}
	if ev.DeliveryContext != nil {
		inbound.Redelivery = ev.DeliveryContext.IsRedelivery
	}
	return TextMessageEvent{InboundEvent: inbound}, nil
}
