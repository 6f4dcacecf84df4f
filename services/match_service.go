package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/repositories"
	"github.com/Dosada05/tournament-standings/scoring"
)

type CreateMatchInput struct {
	TournamentID int        `json:"tournament_id"`
	Phase        string     `json:"phase"`
	Group        *string    `json:"group,omitempty"`
	Number       int        `json:"number,omitempty"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
	TeamIDs      []int      `json:"team_ids"`
}

type ResultInput struct {
	TeamID   int  `json:"team_id"`
	Position *int `json:"position"`
	Kills    int  `json:"kills"`
}

// phaseRecalculator is the on-demand refresh hook run after a match is finalized.
type phaseRecalculator interface {
	Recalculate(ctx context.Context, tournamentID int, phase string, by models.CalculatedBy) (*models.PhaseStanding, error)
}

type MatchService struct {
	store         repositories.Store
	registrations *RegistrationService
	calculator    scoring.Calculator
	recalculator  phaseRecalculator
	events        EventSink
	logger        *slog.Logger
	now           func() time.Time
}

func NewMatchService(
	store repositories.Store,
	registrations *RegistrationService,
	calculator scoring.Calculator,
	recalculator phaseRecalculator,
	events EventSink,
	logger *slog.Logger,
) *MatchService {
	return &MatchService{
		store:         store,
		registrations: registrations,
		calculator:    calculator,
		recalculator:  recalculator,
		events:        sinkOrNoop(events),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *MatchService) CreateMatch(ctx context.Context, input CreateMatchInput) (*models.Match, error) {
	if len(input.TeamIDs) < 2 {
		return nil, invalid("team_ids", "a match needs at least two teams")
	}
	seen := make(map[int]bool, len(input.TeamIDs))
	for _, teamID := range input.TeamIDs {
		if seen[teamID] {
			return nil, invalid("team_ids", fmt.Sprintf("team %d is listed twice", teamID))
		}
		seen[teamID] = true
	}

	match := &models.Match{
		TournamentID: input.TournamentID,
		Phase:        input.Phase,
		Group:        input.Group,
		Number:       input.Number,
		Status:       models.MatchScheduled,
		ScheduledAt:  input.ScheduledAt,
	}
	for _, teamID := range input.TeamIDs {
		match.Participants = append(match.Participants, models.MatchParticipant{TeamID: teamID})
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Repositories) error {
		t, err := tx.Tournaments().GetByID(ctx, input.TournamentID)
		if err != nil {
			return translateStoreError(err, "get tournament")
		}
		phase := t.Phase(input.Phase)
		if phase == nil {
			return notFound("phase", input.Phase)
		}
		if phase.Status == models.PhaseCompleted {
			return invalid("phase", "phase is already completed")
		}
		if input.Group != nil && !slices.Contains(phase.Groups, *input.Group) {
			return invalid("group", fmt.Sprintf("phase %q has no group %q", phase.Name, *input.Group))
		}

		for _, teamID := range input.TeamIDs {
			member, err := tx.PhaseTeams().Get(ctx, t.ID, phase.Name, teamID)
			if err != nil {
				if translated := translateStoreError(err, "get phase team"); isNotFound(translated) {
					return invalid("team_ids", fmt.Sprintf("team %d is not a member of phase %q", teamID, phase.Name))
				}
				return translateStoreError(err, "get phase team")
			}
			if input.Group != nil && !member.InGroup(*input.Group) {
				return invalid("team_ids", fmt.Sprintf("team %d is not in group %q", teamID, *input.Group))
			}
		}

		if err := tx.Matches().Create(ctx, match); err != nil {
			return translateStoreError(err, "create match")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

// RecordResults overwrites the placement, kills and points of the match participants.
// Participants missing from results are cleared. Registrations are not touched.
func (s *MatchService) RecordResults(ctx context.Context, matchID int, results []ResultInput, actor models.Actor) (*models.Match, error) {
	var match *models.Match
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Repositories) error {
		m, err := tx.Matches().GetByID(ctx, matchID)
		if err != nil {
			return translateStoreError(err, "get match")
		}
		if !m.IsEditable() {
			return invalid("status", fmt.Sprintf("results of a %s match cannot be changed", m.Status))
		}
		if err := ensurePhaseOpen(ctx, tx, m); err != nil {
			return err
		}
		if err := validateResults(m, results); err != nil {
			return err
		}

		byTeam := make(map[int]ResultInput, len(results))
		for _, r := range results {
			byTeam[r.TeamID] = r
		}
		for i := range m.Participants {
			p := &m.Participants[i]
			r, ok := byTeam[p.TeamID]
			if !ok {
				p.Position, p.Kills, p.Points, p.ChickenDinner = nil, 0, 0, false
				continue
			}
			position := *r.Position
			p.Position = &position
			p.Kills = r.Kills
			p.Points = s.calculator.TotalPoints(p.Position, r.Kills)
			p.ChickenDinner = position == 1
		}

		now := s.now()
		m.Status = models.MatchInProgress
		m.ResultsUpdatedBy = intPtr(actor.ID)
		m.ResultsUpdatedAt = timePtr(now)
		if err := tx.Matches().SaveResults(ctx, m); err != nil {
			return translateStoreError(err, "save match results")
		}
		match = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := newEvent(models.EventMatchResultsUpdated, match.TournamentID, s.now())
	event.Phase = match.Phase
	event.MatchID = match.ID
	event.ActorID = actor.ID
	s.events.Publish(event)
	return match, nil
}

// ensurePhaseOpen locks the tournament row and rejects writes into a completed phase.
// CompletePhase takes the same lock, so a result cannot slip in after the final ranking.
func ensurePhaseOpen(ctx context.Context, tx repositories.Repositories, m *models.Match) error {
	if err := tx.Tournaments().LockForUpdate(ctx, m.TournamentID); err != nil {
		return translateStoreError(err, "lock tournament")
	}
	t, err := tx.Tournaments().GetByID(ctx, m.TournamentID)
	if err != nil {
		return translateStoreError(err, "get tournament")
	}
	phase := t.Phase(m.Phase)
	if phase == nil {
		return notFound("phase", m.Phase)
	}
	if phase.Status == models.PhaseCompleted {
		return invalid("phase", fmt.Sprintf("phase %q is already completed", phase.Name))
	}
	return nil
}

func validateResults(m *models.Match, results []ResultInput) error {
	if len(results) == 0 {
		return invalid("results", "at least one result is required")
	}
	teams := make(map[int]bool, len(results))
	positions := make(map[int]int, len(results))
	for _, r := range results {
		if m.Participant(r.TeamID) == nil {
			return invalid("team_id", fmt.Sprintf("team %d is not a participant of match %d", r.TeamID, m.ID))
		}
		if teams[r.TeamID] {
			return invalid("team_id", fmt.Sprintf("team %d has more than one result", r.TeamID))
		}
		teams[r.TeamID] = true

		if r.Position == nil {
			return invalid("position", fmt.Sprintf("position of team %d is required", r.TeamID))
		}
		if *r.Position < 1 || *r.Position > len(m.Participants) {
			return invalid("position", fmt.Sprintf("position %d is outside 1..%d", *r.Position, len(m.Participants)))
		}
		if other, taken := positions[*r.Position]; taken {
			return invalid("position", fmt.Sprintf("teams %d and %d share position %d", other, r.TeamID, *r.Position))
		}
		positions[*r.Position] = r.TeamID

		if r.Kills < 0 {
			return invalid("kills", fmt.Sprintf("kills of team %d must not be negative", r.TeamID))
		}
	}
	return nil
}

// SyncStats propagates the recorded results to the registrations. Only the difference between
// the current results and the part already applied is added, so repeated runs are no-ops.
func (s *MatchService) SyncStats(ctx context.Context, matchID int) (*models.Match, error) {
	var match *models.Match
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Repositories) error {
		m, err := tx.Matches().GetByID(ctx, matchID)
		if err != nil {
			return translateStoreError(err, "get match")
		}
		if m.Status == models.MatchCanceled {
			return invalid("status", "canceled match results are not counted")
		}
		if err := ensurePhaseOpen(ctx, tx, m); err != nil {
			return err
		}
		if err := s.syncStats(ctx, tx, m); err != nil {
			return err
		}
		match = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (s *MatchService) syncStats(ctx context.Context, tx repositories.Repositories, m *models.Match) error {
	for i := range m.Participants {
		p := &m.Participants[i]
		next := appliedFromResult(p)
		if p.Applied.Equal(next) {
			continue
		}
		delta := statsDelta(p.Applied, next)

		reg, err := tx.Registrations().GetByTournamentAndTeam(ctx, m.TournamentID, p.TeamID)
		if err != nil {
			return translateStoreError(err, "get registration")
		}
		if err := s.registrations.applyStats(ctx, tx, reg.ID, m.Phase, delta); err != nil {
			return err
		}
		if err := tx.Matches().MarkApplied(ctx, m.ID, p.TeamID, p.Applied, next); err != nil {
			return translateStoreError(err, "mark result applied")
		}
		p.Applied = next

		s.logger.Debug("match stats applied",
			slog.Int("match_id", m.ID),
			slog.Int("registration_id", reg.ID),
			slog.Int("points", delta.Points),
			slog.Int("kills", delta.Kills))
	}
	return nil
}

func appliedFromResult(p *models.MatchParticipant) models.AppliedResult {
	if !p.HasResult() {
		return models.AppliedResult{}
	}
	position := *p.Position
	return models.AppliedResult{
		Applied:       true,
		Position:      &position,
		Points:        p.Points,
		Kills:         p.Kills,
		ChickenDinner: p.ChickenDinner,
	}
}

func statsDelta(prev, next models.AppliedResult) models.StatsDelta {
	positionOf := func(a models.AppliedResult) int {
		if a.Position == nil {
			return 0
		}
		return *a.Position
	}
	return models.StatsDelta{
		Points:         next.Points - prev.Points,
		Kills:          next.Kills - prev.Kills,
		ChickenDinners: boolToInt(next.ChickenDinner) - boolToInt(prev.ChickenDinner),
		MatchesPlayed:  boolToInt(next.Applied) - boolToInt(prev.Applied),
		PositionSum:    positionOf(next) - positionOf(prev),
	}
}

// FinalizeMatch reconciles the match stats and completes the match in one transaction,
// then refreshes the phase standings.
func (s *MatchService) FinalizeMatch(ctx context.Context, matchID int, actor models.Actor) (*models.Match, error) {
	var match *models.Match
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Repositories) error {
		m, err := tx.Matches().GetByID(ctx, matchID)
		if err != nil {
			return translateStoreError(err, "get match")
		}
		if !m.IsEditable() {
			return invalid("status", fmt.Sprintf("match is already %s", m.Status))
		}
		if !m.HasResults() {
			return invalid("results", "results must be recorded before finalization")
		}
		if err := ensurePhaseOpen(ctx, tx, m); err != nil {
			return err
		}
		if err := s.syncStats(ctx, tx, m); err != nil {
			return err
		}

		from := m.Status
		m.Status = models.MatchCompleted
		m.FinalizedBy = intPtr(actor.ID)
		m.FinalizedAt = timePtr(s.now())
		if err := tx.Matches().UpdateStatus(ctx, m, from); err != nil {
			return translateStoreError(err, "complete match")
		}
		match = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := newEvent(models.EventMatchFinalized, match.TournamentID, s.now())
	event.Phase = match.Phase
	event.MatchID = match.ID
	event.ActorID = actor.ID
	s.events.Publish(event)

	if s.recalculator != nil {
		if _, err := s.recalculator.Recalculate(ctx, match.TournamentID, match.Phase, models.CalculatedAutomatic); err != nil {
			// The sweep picks the phase up once its snapshot goes stale.
			s.logger.Error("on-demand standings recalculation failed",
				slog.Int("tournament_id", match.TournamentID),
				slog.String("phase", match.Phase),
				slog.Int("match_id", match.ID),
				slog.Any("error", err))
		}
	}
	return match, nil
}

func (s *MatchService) GetMatch(ctx context.Context, id int) (*models.Match, error) {
	m, err := s.store.Matches().GetByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "get match")
	}
	return m, nil
}

func (s *MatchService) ListMatches(ctx context.Context, tournamentID int, phase string) ([]*models.Match, error) {
	t, err := s.store.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		return nil, translateStoreError(err, "get tournament")
	}
	if t.Phase(phase) == nil {
		return nil, notFound("phase", phase)
	}
	matches, err := s.store.Matches().ListByPhase(ctx, tournamentID, phase)
	if err != nil {
		return nil, translateStoreError(err, "list matches")
	}
	return matches, nil
}
