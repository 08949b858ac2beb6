package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrInvalidReply is returned when an operator reply is missing a required field
var ErrInvalidReply = errors.New("invalid reply request")

// InboundEvent is one text message extracted from a webhook delivery
type InboundEvent struct {
	SourceUserID string
	Text         string
	// ReplyToken is empty when the platform did not issue one (standby mode).
	ReplyToken     string
	WebhookEventID string
	Redelivery     bool
}

// StoredMessage represents a persisted user message waiting for a staff reply
type StoredMessage struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ReplyRequest is an operator-composed reply addressed to one user
type ReplyRequest struct {
	UserID       string `json:"user_id" form:"user_id"`
	ReplyMessage string `json:"reply_message" form:"reply_message"`
	StaffName    string `json:"staff_name" form:"staff_name"`
	StaffIconURL string `json:"staff_icon_url" form:"staff_icon_url"`
}

// Normalize trims surrounding whitespace from every field.
func (r ReplyRequest) Normalize() ReplyRequest {
	return ReplyRequest{
		UserID:       strings.TrimSpace(r.UserID),
		ReplyMessage: strings.TrimSpace(r.ReplyMessage),
		StaffName:    strings.TrimSpace(r.StaffName),
		StaffIconURL: strings.TrimSpace(r.StaffIconURL),
	}
}

// Validate reports the first missing required field.
func (r ReplyRequest) Validate() error {
	n := r.Normalize()
	switch {
	case n.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidReply)
	case n.ReplyMessage == "":
		return fmt.Errorf("%w: reply_message is required", ErrInvalidReply)
	case n.StaffName == "":
		return fmt.Errorf("%w: staff_name is required", ErrInvalidReply)
	}
	return nil
}

// NewestFirst returns a copy of messages in reverse insertion order.
func NewestFirst(messages []StoredMessage) []StoredMessage {
	out := make([]StoredMessage, len(messages))
	copy(out, messages)
	slices.Reverse(out)
	return out
}
