// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict or a duplicate row.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates invalid input.
var ErrValidation = errors.New("validation failed")

// ErrChainNotFound indicates the referenced escalation chain does not exist.
var ErrChainNotFound = errors.New("escalation chain not found")

// ErrNoActiveQueue indicates no active escalation queue is configured for a request.
var ErrNoActiveQueue = errors.New("no active escalation queue configured")

// ErrLimitReached indicates a per-scope quota is already used up.
var ErrLimitReached = errors.New("limit reached")
