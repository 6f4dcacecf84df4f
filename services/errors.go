package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/tournament-standings/repositories"
)

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	ErrNotFound   = errors.New("requested resource not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflicting concurrent or duplicate operation")
)

// ValidationError reports malformed input together with the violated constraint.
type ValidationError struct {
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Constraint)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Constraint)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError is returned for a lost concurrent race or a duplicate create. It is never retried.
type ConflictError struct {
	Entity string
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Entity, e.Reason)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StaleComputationError is raised internally when a phase is finalized on top of a stale
// snapshot. The progression controller recovers from it with a forced recalculation.
type StaleComputationError struct {
	TournamentID   int
	Phase          string
	LastCalculated *time.Time
}

func (e *StaleComputationError) Error() string {
	if e.LastCalculated == nil {
		return fmt.Sprintf("standings of phase %q in tournament %d were never calculated", e.Phase, e.TournamentID)
	}
	return fmt.Sprintf("standings of phase %q in tournament %d are stale since %s",
		e.Phase, e.TournamentID, e.LastCalculated.Format(time.RFC3339))
}

func invalid(field, constraint string) error {
	return &ValidationError{Field: field, Constraint: constraint}
}

func notFound(entity string, key interface{}) error {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

// translateStoreError maps repository sentinels onto the service taxonomy and wraps anything
// else as a store failure.
func translateStoreError(err error, op string) error {
	if err == nil {
		return nil
	}
	var (
		vErr *ValidationError
		cErr *ConflictError
		nErr *NotFoundError
	)
	if errors.As(err, &vErr) || errors.As(err, &cErr) || errors.As(err, &nErr) {
		return err
	}

	switch {
	case errors.Is(err, repositories.ErrTournamentNotFound):
		return &NotFoundError{Entity: "tournament"}
	case errors.Is(err, repositories.ErrPhaseNotFound):
		return &NotFoundError{Entity: "phase"}
	case errors.Is(err, repositories.ErrRegistrationNotFound):
		return &NotFoundError{Entity: "registration"}
	case errors.Is(err, repositories.ErrMatchNotFound):
		return &NotFoundError{Entity: "match"}
	case errors.Is(err, repositories.ErrPhaseStandingNotFound):
		return &NotFoundError{Entity: "phase standing"}
	case errors.Is(err, repositories.ErrPhaseTeamNotFound):
		return &NotFoundError{Entity: "phase team"}
	case errors.Is(err, repositories.ErrTournamentNameConflict):
		return &ConflictError{Entity: "tournament", Reason: "name already used by this organizer", Err: err}
	case errors.Is(err, repositories.ErrRegistrationConflict):
		return &ConflictError{Entity: "registration", Reason: "team is already registered", Err: err}
	case errors.Is(err, repositories.ErrRegistrationStale):
		return &ConflictError{Entity: "registration", Reason: "modified concurrently", Err: err}
	case errors.Is(err, repositories.ErrMatchStale):
		return &ConflictError{Entity: "match", Reason: "modified concurrently", Err: err}
	case errors.Is(err, repositories.ErrPhaseStandingStale):
		return &ConflictError{Entity: "phase standing", Reason: "modified concurrently", Err: err}
	case errors.Is(err, repositories.ErrPhaseStatusConflict):
		return &ConflictError{Entity: "phase", Reason: "status changed concurrently", Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
