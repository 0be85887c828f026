// Package adapter defines the messaging capability the orchestrator sends
// through, the inbound events it reports, and an HTTP gateway implementation.
package adapter

import (
	"context"
	"time"
)

// Media is a binary attachment. Data is base64 encoded.
type Media struct {
	MimeType string `json:"mimetype"`
	Data     string `json:"data"`
	FileName string `json:"filename,omitempty"`
}

// Payload is one message. Text is the caption when Media is set.
type Payload struct {
	Text  string `json:"text,omitempty"`
	Media *Media `json:"media,omitempty"`
}

// Client sends messages on behalf of an account and returns the
// transport's message id, which later acknowledgments refer to.
type Client interface {
	Send(ctx context.Context, accountID, address string, p Payload) (string, error)
}

// SessionManager controls the connection of an account
type SessionManager interface {
	Reconnect(ctx context.Context, accountID string) error
	Logout(ctx context.Context, accountID string) error
}

// EventType is the kind of an inbound transport event
type EventType string

const (
	EventReady        EventType = "ready"
	EventDisconnected EventType = "disconnected"
	EventAuthFailure  EventType = "auth_failure"
	EventQR           EventType = "qr"
	EventAck          EventType = "ack"
)

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	switch t {
	case EventReady, EventDisconnected, EventAuthFailure, EventQR, EventAck:
		return true
	}
	return false
}

// InboundEvent is a lifecycle change or an acknowledgment reported by the transport.
type InboundEvent struct {
	Type      EventType `json:"type"`
	AccountID string    `json:"accountId"`
	Reason    string    `json:"reason,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Ack       int       `json:"ack,omitempty"`
	At        time.Time `json:"at"`
}
