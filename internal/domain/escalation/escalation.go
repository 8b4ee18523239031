// Package escalation models multi-level assignee chains that a pending
// request walks on timeout, ending in a terminal fallback action.
package escalation

import (
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/elicitor/internal/domain"
)

// AssigneeType selects how an assignee reference is resolved to user IDs.
type AssigneeType string

const (
	AssigneeUser   AssigneeType = "user"
	AssigneeRole   AssigneeType = "role"
	AssigneeGroup  AssigneeType = "group"
	AssigneeOnCall AssigneeType = "on_call"
)

// Assignee references a responsible party at a level.
type Assignee struct {
	Type AssigneeType `json:"type"`
	// ID is a user ID, role name, group ID, or schedule name depending on Type.
	ID string `json:"id"`
}

// FinalAction runs once when a chain is exhausted.
type FinalAction string

const (
	FinalReject      FinalAction = "reject"
	FinalApprove     FinalAction = "approve"
	FinalUseDefault  FinalAction = "use_default"
	FinalNotifyAdmin FinalAction = "notify_admin"
)

// Valid reports whether a is a known final action.
func (a FinalAction) Valid() bool {
	switch a {
	case FinalReject, FinalApprove, FinalUseDefault, FinalNotifyAdmin:
		return true
	}
	return false
}

// Level is one step of a chain.
type Level struct {
	Assignees      []Assignee `json:"assignees"`
	TimeoutMinutes int        `json:"timeout_minutes"`
	NotifyChannels []string   `json:"notify_channels,omitempty"`
	Message        string     `json:"message,omitempty"`
}

// Timeout returns the level timeout, or 0 when unset.
func (l Level) Timeout() time.Duration {
	return time.Duration(l.TimeoutMinutes) * time.Minute
}

// Chain is an ordered list of levels with a terminal action.
type Chain struct {
	ID           string      `json:"id"`
	TenantID     string      `json:"tenant_id"`
	Name         string      `json:"name"`
	QueueID      string      `json:"queue_id,omitempty"`
	RequestTypes []string    `json:"request_types,omitempty"`
	Priorities   []string    `json:"priorities,omitempty"`
	Levels       []Level     `json:"levels"`
	FinalAction  FinalAction `json:"final_action"`
	DefaultValue any         `json:"default_value,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Validate checks a chain before it is stored.
func (c *Chain) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("chain name is required: %w", domain.ErrValidation)
	}
	if len(c.Levels) == 0 {
		return fmt.Errorf("chain %q needs at least one level: %w", c.Name, domain.ErrValidation)
	}
	for i, l := range c.Levels {
		if len(l.Assignees) == 0 {
			return fmt.Errorf("level %d has no assignees: %w", i+1, domain.ErrValidation)
		}
		for _, a := range l.Assignees {
			switch a.Type {
			case AssigneeUser, AssigneeRole, AssigneeGroup, AssigneeOnCall:
			default:
				return fmt.Errorf("level %d: unknown assignee type %q: %w", i+1, a.Type, domain.ErrValidation)
			}
			if a.ID == "" && a.Type != AssigneeOnCall {
				return fmt.Errorf("level %d: %s assignee needs an id: %w", i+1, a.Type, domain.ErrValidation)
			}
		}
		if l.TimeoutMinutes < 0 {
			return fmt.Errorf("level %d: timeout must not be negative: %w", i+1, domain.ErrValidation)
		}
	}
	if c.FinalAction == "" {
		c.FinalAction = FinalReject
	}
	if !c.FinalAction.Valid() {
		return fmt.Errorf("unknown final action %q: %w", c.FinalAction, domain.ErrValidation)
	}
	return nil
}

// Matches reports whether every filter the chain sets accepts the request.
// Unset filters match anything.
func (c *Chain) Matches(queueID, requestType, priority string) bool {
	if c.QueueID != "" && c.QueueID != queueID {
		return false
	}
	if len(c.RequestTypes) > 0 && !slices.Contains(c.RequestTypes, requestType) {
		return false
	}
	if len(c.Priorities) > 0 && !slices.Contains(c.Priorities, priority) {
		return false
	}
	return true
}

// Level returns the 1-based level n.
func (c *Chain) Level(n int) (Level, bool) {
	if n < 1 || n > len(c.Levels) {
		return Level{}, false
	}
	return c.Levels[n-1], true
}

// MatchChain returns the first chain, in the given registration order, whose
// filters all accept the request.
func MatchChain(chains []Chain, queueID, requestType, priority string) (Chain, bool) {
	for _, c := range chains {
		if c.Matches(queueID, requestType, priority) {
			return c, true
		}
	}
	return Chain{}, false
}

// Step is the planned effect of escalating a request one level.
type Step struct {
	NewLevel  int
	Exhausted bool
	Level     Level
}

// Next plans the escalation from currentLevel. The level only increases; once
// it passes the last configured level the chain is exhausted.
func Next(c Chain, currentLevel int) Step {
	n := max(currentLevel, 0) + 1
	lvl, ok := c.Level(n)
	return Step{NewLevel: n, Exhausted: !ok, Level: lvl}
}

// Queue is an escalation queue that owns a default timeout.
type Queue struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Name           string    `json:"name"`
	TimeoutMinutes int       `json:"timeout_minutes"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Deadline returns when a request at level should escalate again. The
// level's own timeout wins; the queue timeout is the fallback.
func Deadline(since time.Time, c Chain, level int, q Queue) time.Time {
	timeout := time.Duration(q.TimeoutMinutes) * time.Minute
	if l, ok := c.Level(level); ok && l.TimeoutMinutes > 0 {
		timeout = l.Timeout()
	}
	return since.Add(timeout)
}

// Result is returned from an escalation attempt.
type Result struct {
	Success     bool        `json:"success"`
	NewLevel    int         `json:"new_level"`
	Assignees   []string    `json:"assignees"`
	Exhausted   bool        `json:"exhausted"`
	FinalAction FinalAction `json:"final_action,omitempty"`
}

// Schedule is an internal on-call rota entry.
type Schedule struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id"`
	Name     string    `json:"name"`
	UserID   string    `json:"user_id"`
	Priority int       `json:"priority"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// Active reports whether the schedule covers now.
func (s Schedule) Active(now time.Time) bool {
	return !now.Before(s.StartsAt) && now.Before(s.EndsAt)
}

// PickOnCall returns the highest-priority (lowest number) schedule active at
// now. Ties keep the earlier entry.
func PickOnCall(schedules []Schedule, name string, now time.Time) (Schedule, bool) {
	var best Schedule
	found := false
	for _, s := range schedules {
		if name != "" && s.Name != name {
			continue
		}
		if !s.Active(now) {
			continue
		}
		if !found || s.Priority < best.Priority {
			best, found = s, true
		}
	}
	return best, found
}
