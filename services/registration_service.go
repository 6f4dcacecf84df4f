package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/repositories"
)

type RegisterInput struct {
	TournamentID int      `json:"tournament_id"`
	TeamID       int      `json:"team_id"`
	TeamName     string   `json:"team_name"`
	Roster       []string `json:"roster"`
}

// RegistrationService ведёт жизненный цикл заявок команд на турнир.
type RegistrationService struct {
	store  repositories.Store
	events EventSink
	logger *slog.Logger
	now    func() time.Time
}

func NewRegistrationService(store repositories.Store, events EventSink, logger *slog.Logger) *RegistrationService {
	return &RegistrationService{
		store:  store,
		events: sinkOrNoop(events),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a pending registration. A second attempt for the same team fails with ConflictError.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (*models.Registration, error) {
	if input.TeamID <= 0 {
		return nil, invalid("team_id", "must be positive")
	}
	input.TeamName = strings.TrimSpace(input.TeamName)
	if input.TeamName == "" {
		return nil, invalid("team_name", "is required")
	}

	reg := &models.Registration{
		TournamentID:        input.TournamentID,
		TeamID:              input.TeamID,
		TeamName:            input.TeamName,
		Status:              models.RegistrationPending,
		QualificationMethod: models.QualifiedByRegistration,
		Roster:              input.Roster,
	}
	if reg.Roster == nil {
		reg.Roster = []string{}
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Repositories) error {
		t, err := tx.Tournaments().GetByID(ctx, input.TournamentID)
		if err != nil {
			return translateStoreError(err, "get tournament")
		}
		if !t.AcceptsRegistrations() {
			return invalid("tournament_id", fmt.Sprintf("tournament is %s and does not accept registrations", t.Status))
		}
		if err := tx.Registrations().Create(ctx, reg); err != nil {
			return translateStoreError(err, "create registration")
		}
		if err := tx.Tournaments().IncrementRegisteredCount(ctx, t.ID, 1); err != nil {
			return translateStoreError(err, "increment registered count")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("team registered",
		slog.Int("tournament_id", reg.TournamentID),
		slog.Int("registration_id", reg.ID),
		slog.Int("team_id", reg.TeamID))
	return reg, nil
}

func (s *RegistrationService) Approve(ctx context.Context, id int, actor models.Actor) (*models.Registration, error) {
	return s.transition(ctx, id, models.RegistrationApproved, actor, "", models.EventRegistrationApproved)
}

func (s *RegistrationService) Reject(ctx context.Context, id int, actor models.Actor, reason string) (*models.Registration, error) {
	return s.transition(ctx, id, models.RegistrationRejected, actor, reason, models.EventRegistrationRejected)
}

func (s *RegistrationService) CheckIn(ctx context.Context, id int, actor models.Actor) (*models.Registration, error) {
	return s.transition(ctx, id, models.RegistrationCheckedIn, actor, "", models.EventRegistrationCheckedIn)
}

func (s *RegistrationService) Disqualify(ctx context.Context, id int, actor models.Actor, reason string) (*models.Registration, error) {
	return s.transition(ctx, id, models.RegistrationDisqualified, actor, reason, models.EventRegistrationDisqualified)
}

func (s *RegistrationService) Withdraw(ctx context.Context, id int, actor models.Actor, reason string) (*models.Registration, error) {
	return s.transition(ctx, id, models.RegistrationWithdrawn, actor, reason, models.EventRegistrationWithdrawn)
}

// transition moves a registration to the target status. The stored row is updated only if
// nobody changed it since it was read, and the tournament's participating count is
// recomputed in the same transaction when the active set changes.
func (s *RegistrationService) transition(
	ctx context.Context,
	id int,
	to models.RegistrationStatus,
	actor models.Actor,
	reason string,
	eventType models.EventType,
) (*models.Registration, error) {
	reason = strings.TrimSpace(reason)
	switch to {
	case models.RegistrationRejected, models.RegistrationDisqualified, models.RegistrationWithdrawn:
		if reason == "" {
			return nil, invalid("reason", "is required")
		}
	}

	var result *models.Registration
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Repositories) error {
		reg, err := tx.Registrations().GetByID(ctx, id)
		if err != nil {
			return translateStoreError(err, "get registration")
		}
		from := reg.Status
		if !isValidRegistrationTransition(from, to) {
			return invalid("status", fmt.Sprintf("cannot transition from %s to %s", from, to))
		}

		// Concurrent approvals of one tournament queue here until the recount below commits.
		if err := tx.Tournaments().LockForUpdate(ctx, reg.TournamentID); err != nil {
			return translateStoreError(err, "lock tournament")
		}
		t, err := tx.Tournaments().GetByID(ctx, reg.TournamentID)
		if err != nil {
			return translateStoreError(err, "get tournament")
		}

		now := s.now()
		reg.Status = to
		switch to {
		case models.RegistrationApproved:
			reg.ApprovedBy, reg.ApprovedAt = intPtr(actor.ID), timePtr(now)
			if first := t.FirstPhase(); first != nil && reg.CurrentPhase == nil {
				reg.CurrentPhase = stringPtr(first.Name)
			}
		case models.RegistrationRejected:
			reg.RejectedBy, reg.RejectedAt, reg.RejectionReason = intPtr(actor.ID), timePtr(now), stringPtr(reason)
		case models.RegistrationCheckedIn:
			reg.CheckedInBy, reg.CheckedInAt = intPtr(actor.ID), timePtr(now)
		case models.RegistrationDisqualified:
			reg.DisqualifiedBy, reg.DisqualifiedAt, reg.DisqualificationReason = intPtr(actor.ID), timePtr(now), stringPtr(reason)
		case models.RegistrationWithdrawn:
			reg.WithdrawnBy, reg.WithdrawnAt, reg.WithdrawalReason = intPtr(actor.ID), timePtr(now), stringPtr(reason)
		}

		if err := tx.Registrations().UpdateStatus(ctx, reg, from); err != nil {
			return translateStoreError(err, "update registration status")
		}

		if from.IsActive() != to.IsActive() {
			count, err := tx.Tournaments().RecountParticipatingTeams(ctx, t.ID)
			if err != nil {
				return translateStoreError(err, "recount participating teams")
			}
			if to.IsActive() && count > t.TotalSlots {
				return &ConflictError{Entity: "tournament", Reason: fmt.Sprintf("all %d slots are taken", t.TotalSlots)}
			}
		}

		if to == models.RegistrationApproved && reg.CurrentPhase != nil {
			_, err := tx.PhaseTeams().Add(ctx, &models.PhaseTeam{
				TournamentID: t.ID,
				Phase:        *reg.CurrentPhase,
				TeamID:       reg.TeamID,
				Group:        reg.CurrentGroup,
				Status:       models.MembershipActive,
				AddedAt:      now,
			})
			if err != nil {
				return translateStoreError(err, "add team to phase")
			}
		}

		result = reg
		return nil
	})
	if err != nil {
		var cErr *ConflictError
		if errors.As(err, &cErr) {
			s.logger.Warn("registration transition rejected",
				slog.Int("registration_id", id),
				slog.String("to", string(to)),
				slog.String("error", err.Error()))
		}
		return nil, err
	}

	event := newEvent(eventType, result.TournamentID, s.now())
	event.RegistrationID = result.ID
	event.TeamID = result.TeamID
	event.ActorID = actor.ID
	event.Reason = reason
	s.events.Publish(event)

	s.logger.Info("registration status changed",
		slog.Int("tournament_id", result.TournamentID),
		slog.Int("registration_id", result.ID),
		slog.String("status", string(result.Status)))
	return result, nil
}

func (s *RegistrationService) Get(ctx context.Context, id int) (*models.Registration, error) {
	reg, err := s.store.Registrations().GetByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "get registration")
	}
	return reg, nil
}

func (s *RegistrationService) ListByTournament(ctx context.Context, tournamentID int, status *models.RegistrationStatus) ([]*models.Registration, error) {
	if _, err := s.store.Tournaments().GetByID(ctx, tournamentID); err != nil {
		return nil, translateStoreError(err, "get tournament")
	}
	regs, err := s.store.Registrations().ListByTournament(ctx, tournamentID, status)
	if err != nil {
		return nil, translateStoreError(err, "list registrations")
	}
	return regs, nil
}

// UpdateStats adds delta to the cumulative and per-phase aggregates of a registration as one unit.
func (s *RegistrationService) UpdateStats(ctx context.Context, registrationID int, phase string, delta models.StatsDelta) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Repositories) error {
		return s.applyStats(ctx, tx, registrationID, phase, delta)
	})
}

func (s *RegistrationService) applyStats(ctx context.Context, tx repositories.Repositories, registrationID int, phase string, delta models.StatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	if err := tx.Registrations().ApplyStatsDelta(ctx, registrationID, phase, delta); err != nil {
		return translateStoreError(err, "apply stats delta")
	}
	return nil
}
