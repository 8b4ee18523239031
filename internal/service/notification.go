// Package service contains the application services that sequence domain
// rules over the ports.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/elicitor/internal/domain/elicitation"
	"github.com/Strob0t/elicitor/internal/domain/escalation"
	"github.com/Strob0t/elicitor/internal/port/notifier"
)

const maxConcurrentSends = 8

// NotificationService dispatches notifications to the registered notifiers.
type NotificationService struct {
	notifiers     []notifier.Notifier
	enabledEvents map[string]bool
	publicURL     string
}

// NewNotificationService creates a NotificationService with the given notifiers
// and list of enabled event sources (e.g. "escalation.escalated").
// If enabledEvents is nil or empty, all events are enabled.
func NewNotificationService(notifiers []notifier.Notifier, enabledEvents []string, publicURL string) *NotificationService {
	enabled := make(map[string]bool, len(enabledEvents))
	for _, e := range enabledEvents {
		enabled[e] = true
	}
	return &NotificationService{
		notifiers:     notifiers,
		enabledEvents: enabled,
		publicURL:     strings.TrimRight(publicURL, "/"),
	}
}

// Notify sends a notification to every notifier in channels (all when empty).
// Errors are logged and do not stop delivery to other notifiers. It returns
// the number of successful sends.
func (s *NotificationService) Notify(ctx context.Context, channels []string, ns ...notifier.Notification) int {
	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSends)

	for _, n := range ns {
		if len(s.enabledEvents) > 0 && !s.enabledEvents[n.Source] {
			continue
		}
		for _, provider := range s.pick(channels) {
			// Addressed messages go to direct channels, unaddressed ones to shared channels.
			if provider.Capabilities().DirectMessage != (n.Recipient != "") {
				continue
			}
			g.Go(func() error {
				if err := provider.Send(gctx, n); err != nil {
					slog.Warn("notification send failed",
						"provider", provider.Name(),
						"recipient", n.Recipient,
						"title", n.Title,
						"error", err,
					)
					return nil
				}
				sent.Add(1)
				slog.Debug("notification sent", "provider", provider.Name(), "title", n.Title)
				return nil
			})
		}
	}
	_ = g.Wait()
	return int(sent.Load())
}

func (s *NotificationService) pick(channels []string) []notifier.Notifier {
	if len(channels) == 0 {
		return s.notifiers
	}
	out := make([]notifier.Notifier, 0, len(s.notifiers))
	for _, n := range s.notifiers {
		if slices.Contains(channels, n.Name()) {
			out = append(out, n)
		}
	}
	return out
}

// SendEscalationNotification tells the assignees of a level about a pending
// request. Direct-message channels get one message per assignee; shared
// channels get a single message naming them all.
func (s *NotificationService) SendEscalationNotification(ctx context.Context, req *elicitation.Request, level int, lvl escalation.Level, assignees []string) int {
	title := fmt.Sprintf("Escalated question (level %d)", level)
	body := req.Question
	if lvl.Message != "" {
		body = lvl.Message + "\n\n" + req.Question
	}
	return s.Notify(ctx, lvl.NotifyChannels, s.fanOut(req, title, body, "warning", "escalation.escalated", assignees)...)
}

// SendAdminNotification tells tenant admins that a chain ran out of levels.
func (s *NotificationService) SendAdminNotification(ctx context.Context, req *elicitation.Request, admins []string) int {
	title := "Escalation chain exhausted"
	body := fmt.Sprintf("No one answered after %d escalation levels:\n\n%s", req.EscalationLevel, req.Question)
	return s.Notify(ctx, nil, s.fanOut(req, title, body, "error", "escalation.exhausted", admins)...)
}

func (s *NotificationService) fanOut(req *elicitation.Request, title, body, level, source string, recipients []string) []notifier.Notification {
	base := notifier.Notification{
		Title:   title,
		Message: body,
		Level:   level,
		Source:  source,
		Link:    s.link(req.ID),
	}
	ns := make([]notifier.Notification, 0, len(recipients)+1)

	shared := base
	if len(recipients) > 0 {
		shared.Message = body + "\n\nAssigned to: " + strings.Join(recipients, ", ")
	}
	ns = append(ns, shared)

	for _, r := range recipients {
		direct := base
		direct.Recipient = r
		ns = append(ns, direct)
	}
	return ns
}

func (s *NotificationService) link(requestID string) string {
	if s.publicURL == "" {
		return ""
	}
	return s.publicURL + "/api/v1/ask/" + requestID
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}
