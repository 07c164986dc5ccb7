// Package reconcile converges the set of managed live broadcasts in a
// broadcast registry (YouTube Live) with what the performer roster implies
// should exist: one broadcast per (performer, song) pair.
//
// A pass is computed as a Plan (pure, deterministic) and then applied against
// a Registry. Broadcasts that are live or complete are never updated or
// deleted, broadcasts whose title is not in the managed format are never
// touched, and data-quality problems are reported as Anomalies rather than
// corrected.
package reconcile

import (
	"context"
	"errors"
	"fmt"
)

// LifecycleState is the server-controlled state of a broadcast.
type LifecycleState string

const (
	StateCreated  LifecycleState = "created"
	StateReady    LifecycleState = "ready"
	StateTesting  LifecycleState = "testing"
	StateLive     LifecycleState = "live"
	StateComplete LifecycleState = "complete"
	StateRevoked  LifecycleState = "revoked"
)

// Terminal reports whether the state protects the broadcast from automated
// mutation.
func (s LifecycleState) Terminal() bool { return s == StateLive || s == StateComplete }

// Privacy is the visibility of a broadcast.
type Privacy string

const (
	PrivacyPublic   Privacy = "public"
	PrivacyUnlisted Privacy = "unlisted"
	PrivacyPrivate  Privacy = "private"
)

// ManagedBroadcast is a broadcast resource as seen in a registry snapshot.
type ManagedBroadcast struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	State       LifecycleState `json:"lifecycle_state"`
	Privacy     Privacy        `json:"privacy"`
}

//go:generate mockgen -destination=mocks/mock_registry.go -package=mocks -source=types.go Registry

// Registry is the remote store of broadcast resources. Errors should be
// classified with Transient or Permanent; unclassified errors are treated as
// transient.
type Registry interface {
	List(ctx context.Context) ([]ManagedBroadcast, error)
	Create(ctx context.Context, title, description string) (string, error)
	Update(ctx context.Context, id, title, description string) error
	Delete(ctx context.Context, id string) error
}

// ErrorClass tells whether a registry failure is worth retrying on a later tick.
type ErrorClass int

const (
	// ClassTransient failures (rate limits, network) are retried on the next tick.
	ClassTransient ErrorClass = iota
	// ClassPermanent failures (not found, already terminal) are logged and skipped.
	ClassPermanent
)

func (c ErrorClass) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

var (
	// ErrTransient matches every transient registry error via errors.Is.
	ErrTransient = errors.New("transient registry error")
	// ErrPermanent matches every permanent registry error via errors.Is.
	ErrPermanent = errors.New("permanent registry error")
)

// RegistryError is a classified registry failure.
type RegistryError struct {
	Op    string
	ID    string
	Class ErrorClass
	Err   error
}

func (e *RegistryError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("registry %s %s (%s): %v", e.Op, e.ID, e.Class, e.Err)
	}
	return fmt.Sprintf("registry %s (%s): %v", e.Op, e.Class, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// Is matches ErrTransient or ErrPermanent according to the class.
func (e *RegistryError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Class == ClassTransient
	case ErrPermanent:
		return e.Class == ClassPermanent
	}
	return false
}

// Transient wraps err as a retryable registry error.
func Transient(op, id string, err error) error {
	return &RegistryError{Op: op, ID: id, Class: ClassTransient, Err: err}
}

// Permanent wraps err as a non-retryable registry error.
func Permanent(op, id string, err error) error {
	return &RegistryError{Op: op, ID: id, Class: ClassPermanent, Err: err}
}

// ClassOf reports the class of err. Unclassified errors are transient.
func ClassOf(err error) ErrorClass {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Class
	}
	return ClassTransient
}
