package storage

import (
	"context"
	"errors"

	"github.com/vietddude/ethbridge/internal/core/domain"
)

var (
	// ErrNotFound is returned when a record doesn't exist
	ErrNotFound = errors.New("not found")
)

// SessionRecord is a stored voting session with its encoded action payload.
type SessionRecord struct {
	Kind    domain.ActionKind
	Session domain.VotingSession
	Payload []byte
}

// SessionRepository persists voting sessions.
type SessionRepository interface {
	// Save inserts or replaces the session identified by (kind, action id)
	Save(ctx context.Context, rec *SessionRecord) error

	// Get retrieves a session, ErrNotFound if absent
	Get(ctx context.Context, kind domain.ActionKind, id domain.ActionID) (*SessionRecord, error)

	// Delete removes a session
	Delete(ctx context.Context, kind domain.ActionKind, id domain.ActionID) error

	// ListOpen returns the open sessions of a kind
	ListOpen(ctx context.Context, kind domain.ActionKind) ([]*SessionRecord, error)

	// DeleteConcludedBefore removes concluded sessions created before block
	DeleteConcludedBefore(ctx context.Context, block uint64) (int, error)
}

// CounterRepository stores monotonic counters (nonces, ingress counters) by scope and key.
type CounterRepository interface {
	// Get returns the counter value, 0 when it was never set
	Get(ctx context.Context, scope, key string) (uint64, error)

	// Set stores the counter value
	Set(ctx context.Context, scope, key string, value uint64) error
}

// OffenceRepository stores reported offences.
type OffenceRepository interface {
	// Exists reports whether offender was already reported for (kind, action)
	Exists(ctx context.Context, kind domain.OffenceKind, id domain.ActionID, offender domain.AccountID) (bool, error)

	// Save stores an offence report
	Save(ctx context.Context, o *domain.Offence) error

	// List returns all offence reports
	List(ctx context.Context) ([]*domain.Offence, error)
}

// ProcessedEventRepository tracks events already delivered to handlers.
type ProcessedEventRepository interface {
	// MarkProcessed records id and reports whether it was newly recorded
	MarkProcessed(ctx context.Context, id domain.EventID, block uint64) (bool, error)

	// IsProcessed reports whether id was delivered
	IsProcessed(ctx context.Context, id domain.EventID) (bool, error)

	// DeleteBefore removes records for events below block
	DeleteBefore(ctx context.Context, block uint64) (int, error)
}

// RangeRepository stores the active range per instance.
type RangeRepository interface {
	// GetActive returns the active range, nil when voting for the initial range
	GetActive(ctx context.Context, instance domain.InstanceID) (*domain.ActiveRange, error)

	// SetActive stores the active range
	SetActive(ctx context.Context, instance domain.InstanceID, r domain.ActiveRange) error

	// Clear removes the active range so the initial range is agreed again
	Clear(ctx context.Context, instance domain.InstanceID) error
}

// Store bundles the repositories of one backend.
type Store struct {
	Sessions  SessionRepository
	Counters  CounterRepository
	Offences  OffenceRepository
	Processed ProcessedEventRepository
	Ranges    RangeRepository
	// Close releases the backend, may be nil
	Close func() error
}
