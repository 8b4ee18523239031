// Package notifier defines the notification port used to reach assignees.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is missing required settings.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier.
type Notification struct {
	Recipient string `json:"recipient,omitempty"` // user ID; empty means the channel default
	Title     string `json:"title"`
	Message   string `json:"message"`
	Level     string `json:"level"`  // "info", "warning", "error"
	Source    string `json:"source"` // e.g. "escalation.escalated"
	Link      string `json:"link,omitempty"`
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	DirectMessage  bool `json:"direct_message"`
}

// Notifier delivers notifications over one channel.
type Notifier interface {
	Name() string
	Capabilities() Capabilities
	Send(ctx context.Context, n Notification) error
}
