package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/repositories"
)

// SnapshotArchiver stores the final snapshot of a completed phase outside the database.
type SnapshotArchiver interface {
	Archive(ctx context.Context, ps *models.PhaseStanding) (string, error)
}

type InviteInput struct {
	TournamentID int      `json:"tournament_id"`
	TeamID       int      `json:"team_id"`
	TeamName     string   `json:"team_name"`
	Phase        string   `json:"phase,omitempty"` // empty = first phase
	Group        *string  `json:"group,omitempty"`
	Roster       []string `json:"roster,omitempty"`
}

// QualificationResult lists the teams a rule moved forward and the ones it eliminated.
type QualificationResult struct {
	NextPhase  string `json:"next_phase,omitempty"`
	Qualified  []int  `json:"qualified"`
	Eliminated []int  `json:"eliminated"`
}

// ProgressionService drives phase transitions and advancement between phases.
type ProgressionService struct {
	store          repositories.Store
	phaseStandings *PhaseStandingService
	archiver       SnapshotArchiver
	events         EventSink
	logger         *slog.Logger
	now            func() time.Time
}

func NewProgressionService(
	store repositories.Store,
	phaseStandings *PhaseStandingService,
	archiver SnapshotArchiver,
	events EventSink,
	logger *slog.Logger,
) *ProgressionService {
	return &ProgressionService{
		store:          store,
		phaseStandings: phaseStandings,
		archiver:       archiver,
		events:         sinkOrNoop(events),
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// StartPhase moves an upcoming phase to in_progress once every earlier phase is completed.
func (s *ProgressionService) StartPhase(ctx context.Context, tournamentID int, phase string, actor models.Actor) (*models.PhaseStanding, error) {
	var snapshot *models.PhaseStanding
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Repositories) error {
		t, p, err := loadPhase(ctx, tx, tournamentID, phase)
		if err != nil {
			return err
		}
		if p.Status != models.PhaseUpcoming {
			return invalid("status", fmt.Sprintf("phase %q is %s, only an upcoming phase can start", phase, p.Status))
		}
		for _, earlier := range t.Phases[:p.Position] {
			if earlier.Status != models.PhaseCompleted {
				return invalid("phase", fmt.Sprintf("phase %q must be completed first", earlier.Name))
			}
		}

		if err := tx.Tournaments().UpdatePhaseStatus(ctx, t.ID, phase, models.PhaseUpcoming, models.PhaseInProgress); err != nil {
			return translateStoreError(err, "start phase")
		}
		if t.Status != models.TournamentInProgress {
			if err := tx.Tournaments().UpdateStatus(ctx, t.ID, models.TournamentInProgress); err != nil {
				return translateStoreError(err, "update tournament status")
			}
		}

		ps, err := tx.PhaseStandings().GetOrCreate(ctx, t.ID, phase, models.PhaseInProgress)
		if err != nil {
			return translateStoreError(err, "create phase standing")
		}
		if ps.Status != models.PhaseInProgress {
			if err := tx.PhaseStandings().UpdateStatus(ctx, t.ID, phase, models.PhaseInProgress); err != nil {
				return translateStoreError(err, "update phase standing status")
			}
			ps.Status = models.PhaseInProgress
		}
		snapshot = ps
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := newEvent(models.EventPhaseStarted, tournamentID, s.now())
	event.Phase = phase
	event.ActorID = actor.ID
	s.events.Publish(event)

	s.logger.Info("phase started", slog.Int("tournament_id", tournamentID), slog.String("phase", phase))
	return snapshot, nil
}

// CompletePhase finalizes an in-progress phase: it applies the qualification rule, stores the
// final snapshot and, for the last phase, assigns final positions and completes the tournament.
// A stale snapshot forces one recalculation before the attempt is repeated.
func (s *ProgressionService) CompletePhase(ctx context.Context, tournamentID int, phase string, actor models.Actor) (*models.PhaseStanding, error) {
	snapshot, result, err := s.completePhase(ctx, tournamentID, phase)
	var staleErr *StaleComputationError
	if errors.As(err, &staleErr) {
		s.logger.Info("forcing standings recalculation before phase completion",
			slog.Int("tournament_id", tournamentID),
			slog.String("phase", phase),
			slog.String("reason", staleErr.Error()))
		if _, err := s.phaseStandings.Recalculate(ctx, tournamentID, phase, models.CalculatedManual); err != nil {
			return nil, err
		}
		snapshot, result, err = s.completePhase(ctx, tournamentID, phase)
	}
	if err != nil {
		if errors.As(err, &staleErr) {
			return nil, fmt.Errorf("complete phase: %w", err)
		}
		return nil, err
	}

	s.publishQualification(tournamentID, phase, result)
	event := newEvent(models.EventPhaseCompleted, tournamentID, s.now())
	event.Phase = phase
	event.ActorID = actor.ID
	s.events.Publish(event)

	if s.archiver != nil && snapshot != nil {
		location, err := s.archiver.Archive(ctx, snapshot)
		if err != nil {
			s.logger.Error("failed to archive final phase standings",
				slog.Int("tournament_id", tournamentID),
				slog.String("phase", phase),
				slog.Any("error", err))
		} else {
			s.logger.Info("final phase standings archived",
				slog.Int("tournament_id", tournamentID),
				slog.String("phase", phase),
				slog.String("location", location))
		}
	}

	s.logger.Info("phase completed",
		slog.Int("tournament_id", tournamentID),
		slog.String("phase", phase),
		slog.Int("qualified", len(result.Qualified)),
		slog.Int("eliminated", len(result.Eliminated)))
	return snapshot, nil
}

func (s *ProgressionService) completePhase(ctx context.Context, tournamentID int, phase string) (*models.PhaseStanding, QualificationResult, error) {
	var snapshot *models.PhaseStanding
	var result QualificationResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Repositories) error {
		if err := tx.Tournaments().LockForUpdate(ctx, tournamentID); err != nil {
			return translateStoreError(err, "lock tournament")
		}
		t, p, err := loadPhase(ctx, tx, tournamentID, phase)
		if err != nil {
			return err
		}
		if p.Status != models.PhaseInProgress {
			return invalid("status", fmt.Sprintf("phase %q is %s, only an in-progress phase can complete", phase, p.Status))
		}
		if err := s.ensureFresh(ctx, tx, tournamentID, phase); err != nil {
			return err
		}

		if err := tx.Tournaments().UpdatePhaseStatus(ctx, t.ID, phase, models.PhaseInProgress, models.PhaseCompleted); err != nil {
			return translateStoreError(err, "complete phase")
		}
		p.Status = models.PhaseCompleted

		result, err = s.applyQualification(ctx, tx, t, p)
		if err != nil {
			return err
		}

		if t.IsLastPhase(phase) {
			if err := s.assignFinalPositions(ctx, tx, t.ID, phase); err != nil {
				return err
			}
			if err := tx.Tournaments().UpdateStatus(ctx, t.ID, models.TournamentCompleted); err != nil {
				return translateStoreError(err, "complete tournament")
			}
		}

		snapshot, _, err = s.phaseStandings.recalculate(ctx, tx, tournamentID, phase, models.CalculatedAutomatic)
		if err != nil {
			return err
		}
		if snapshot == nil {
			snapshot, err = tx.PhaseStandings().GetOrCreate(ctx, tournamentID, phase, models.PhaseCompleted)
			if err != nil {
				return translateStoreError(err, "get phase standing")
			}
		}
		if snapshot.Status != models.PhaseCompleted {
			if err := tx.PhaseStandings().UpdateStatus(ctx, tournamentID, phase, models.PhaseCompleted); err != nil {
				return translateStoreError(err, "update phase standing status")
			}
			snapshot.Status = models.PhaseCompleted
		}
		return nil
	})
	return snapshot, result, err
}

// ensureFresh fails with StaleComputationError when the snapshot is missing, older than the
// threshold or no longer matches the live ranking. A phase without standings is always fresh.
func (s *ProgressionService) ensureFresh(ctx context.Context, tx repositories.Repositories, tournamentID int, phase string) error {
	rows, err := rankedStandings(ctx, tx, tournamentID, phase, nil)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	ps, err := tx.PhaseStandings().Get(ctx, tournamentID, phase)
	if errors.Is(err, repositories.ErrPhaseStandingNotFound) {
		return &StaleComputationError{TournamentID: tournamentID, Phase: phase}
	}
	if err != nil {
		return translateStoreError(err, "get phase standing")
	}
	if s.phaseStandings.IsStale(ps) || ps.Fingerprint != rankingFingerprint(rows) {
		return &StaleComputationError{TournamentID: tournamentID, Phase: phase, LastCalculated: ps.LastCalculated}
	}
	return nil
}

// ApplyQualification re-applies the qualification rule of a completed phase. Applying it
// again leaves the team sets unchanged.
func (s *ProgressionService) ApplyQualification(ctx context.Context, tournamentID int, phase string) (*QualificationResult, error) {
	var result QualificationResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Repositories) error {
		if err := tx.Tournaments().LockForUpdate(ctx, tournamentID); err != nil {
			return translateStoreError(err, "lock tournament")
		}
		t, p, err := loadPhase(ctx, tx, tournamentID, phase)
		if err != nil {
			return err
		}
		if p.Status != models.PhaseCompleted {
			return invalid("status", fmt.Sprintf("phase %q is %s, qualification applies to completed phases", phase, p.Status))
		}
		result, err = s.applyQualification(ctx, tx, t, p)
		if err != nil {
			return err
		}
		_, _, err = s.phaseStandings.recalculate(ctx, tx, tournamentID, phase, models.CalculatedAutomatic)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publishQualification(tournamentID, phase, result)
	return &result, nil
}

func (s *ProgressionService) applyQualification(ctx context.Context, tx repositories.Repositories, t *models.Tournament, p *models.Phase) (QualificationResult, error) {
	result := QualificationResult{Qualified: []int{}, Eliminated: []int{}}
	rule := p.Qualification
	if rule == nil {
		return result, nil
	}
	next := t.Phase(rule.NextPhase)
	if next == nil {
		return result, invalid("qualification.next_phase", fmt.Sprintf("phase %q does not exist", rule.NextPhase))
	}
	result.NextPhase = next.Name

	rows, err := rankedStandings(ctx, tx, t.ID, p.Name, nil)
	if err != nil {
		return result, err
	}

	limit := rule.Output(len(p.Groups))
	if next.Slots > 0 && limit > next.Slots {
		limit = next.Slots
	}
	selected := selectQualified(rows, rule, p.Groups, limit)

	for _, st := range rows {
		if selected[st.TeamID] {
			if st.IsQualified {
				continue
			}
			if err := s.qualifyTeam(ctx, tx, t.ID, p.Name, next.Name, st); err != nil {
				return result, err
			}
			result.Qualified = append(result.Qualified, st.TeamID)
			continue
		}
		if st.IsEliminated {
			continue
		}
		if st.IsQualified {
			if err := s.demoteTeam(ctx, tx, t, p, next, st); err != nil {
				return result, err
			}
		}
		if err := tx.PhaseTeams().SetStatus(ctx, t.ID, p.Name, st.TeamID, models.MembershipEliminated); err != nil {
			return result, translateStoreError(err, "eliminate team")
		}
		result.Eliminated = append(result.Eliminated, st.TeamID)
	}
	return result, nil
}

// selectQualified takes the top rows overall, or the top rows of each group, never more than limit.
func selectQualified(rows []*models.Standing, rule *models.QualificationRule, groups []string, limit int) map[int]bool {
	selected := make(map[int]bool, limit)
	if rule.Source == models.QualifyPerGroup && len(groups) > 0 {
		perGroup := make(map[string]int, len(groups))
		for _, st := range rows {
			if len(selected) >= limit {
				break
			}
			if st.Group == nil || !slices.Contains(groups, *st.Group) {
				continue
			}
			if perGroup[*st.Group] >= rule.Slots {
				continue
			}
			perGroup[*st.Group]++
			selected[st.TeamID] = true
		}
		return selected
	}
	for _, st := range rows {
		if len(selected) >= limit {
			break
		}
		selected[st.TeamID] = true
	}
	return selected
}

func (s *ProgressionService) qualifyTeam(ctx context.Context, tx repositories.Repositories, tournamentID int, from, to string, st *models.Standing) error {
	if err := tx.PhaseTeams().SetStatus(ctx, tournamentID, from, st.TeamID, models.MembershipQualified); err != nil {
		return translateStoreError(err, "mark team qualified")
	}
	_, err := tx.PhaseTeams().Add(ctx, &models.PhaseTeam{
		TournamentID: tournamentID,
		Phase:        to,
		TeamID:       st.TeamID,
		Status:       models.MembershipActive,
		AddedAt:      s.now(),
	})
	if err != nil {
		return translateStoreError(err, "add team to next phase")
	}
	if err := tx.Registrations().UpdateProgress(ctx, st.RegistrationID, stringPtr(to), nil, models.QualifiedByStandings); err != nil {
		return translateStoreError(err, "move registration to next phase")
	}
	return nil
}

// demoteTeam withdraws an earlier qualification the current ranking no longer supports.
// The team is taken out of the next phase and its registration moves back to p.
func (s *ProgressionService) demoteTeam(ctx context.Context, tx repositories.Repositories, t *models.Tournament, p, next *models.Phase, st *models.Standing) error {
	if next.Status != models.PhaseUpcoming {
		return invalid("qualification", fmt.Sprintf("team %d already plays in %s phase %q", st.TeamID, next.Status, next.Name))
	}
	if err := tx.PhaseTeams().Remove(ctx, t.ID, next.Name, st.TeamID); err != nil && !errors.Is(err, repositories.ErrPhaseTeamNotFound) {
		return translateStoreError(err, "remove team from next phase")
	}
	reg, err := tx.Registrations().GetByID(ctx, st.RegistrationID)
	if err != nil {
		return translateStoreError(err, "get registration")
	}
	method := reg.QualificationMethod
	if first := t.FirstPhase(); first != nil && first.Name == p.Name && method == models.QualifiedByStandings {
		method = models.QualifiedByRegistration
	}
	if err := tx.Registrations().UpdateProgress(ctx, reg.ID, stringPtr(p.Name), st.Group, method); err != nil {
		return translateStoreError(err, "move registration back")
	}
	s.logger.Info("qualification withdrawn",
		slog.Int("tournament_id", t.ID),
		slog.String("phase", p.Name),
		slog.Int("team_id", st.TeamID))
	return nil
}

func (s *ProgressionService) assignFinalPositions(ctx context.Context, tx repositories.Repositories, tournamentID int, phase string) error {
	rows, err := rankedStandings(ctx, tx, tournamentID, phase, nil)
	if err != nil {
		return err
	}
	for _, st := range rows {
		if err := tx.Registrations().SetFinalPosition(ctx, st.RegistrationID, st.Rank); err != nil {
			return translateStoreError(err, "set final position")
		}
	}
	return nil
}

func (s *ProgressionService) publishQualification(tournamentID int, phase string, result QualificationResult) {
	for _, teamID := range result.Qualified {
		event := newEvent(models.EventTeamQualified, tournamentID, s.now())
		event.Phase = phase
		event.TeamID = teamID
		s.events.Publish(event)
	}
	for _, teamID := range result.Eliminated {
		event := newEvent(models.EventTeamEliminated, tournamentID, s.now())
		event.Phase = phase
		event.TeamID = teamID
		s.events.Publish(event)
	}
}

// InviteTeam admits a team directly into a phase as an approved, invited registration.
func (s *ProgressionService) InviteTeam(ctx context.Context, input InviteInput, actor models.Actor) (*models.Registration, error) {
	if input.TeamID <= 0 {
		return nil, invalid("team_id", "must be positive")
	}
	input.TeamName = strings.TrimSpace(input.TeamName)

	var result *models.Registration
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Repositories) error {
		if err := tx.Tournaments().LockForUpdate(ctx, input.TournamentID); err != nil {
			return translateStoreError(err, "lock tournament")
		}
		t, err := tx.Tournaments().GetByID(ctx, input.TournamentID)
		if err != nil {
			return translateStoreError(err, "get tournament")
		}
		if t.Status == models.TournamentCompleted || t.Status == models.TournamentCanceled {
			return invalid("tournament_id", fmt.Sprintf("tournament is %s", t.Status))
		}
		phase := t.FirstPhase()
		if input.Phase != "" {
			phase = t.Phase(input.Phase)
		}
		if phase == nil {
			return notFound("phase", input.Phase)
		}
		if phase.Status == models.PhaseCompleted {
			return invalid("phase", fmt.Sprintf("phase %q is already completed", phase.Name))
		}
		if input.Group != nil && !slices.Contains(phase.Groups, *input.Group) {
			return invalid("group", fmt.Sprintf("phase %q has no group %q", phase.Name, *input.Group))
		}

		now := s.now()
		reg, err := tx.Registrations().GetByTournamentAndTeam(ctx, t.ID, input.TeamID)
		switch {
		case errors.Is(err, repositories.ErrRegistrationNotFound):
			if input.TeamName == "" {
				return invalid("team_name", "is required")
			}
			reg = &models.Registration{
				TournamentID:        t.ID,
				TeamID:              input.TeamID,
				TeamName:            input.TeamName,
				Status:              models.RegistrationApproved,
				QualificationMethod: models.QualifiedByInvitation,
				Roster:              input.Roster,
				ApprovedBy:          intPtr(actor.ID),
				ApprovedAt:          timePtr(now),
			}
			if reg.Roster == nil {
				reg.Roster = []string{}
			}
			if err := tx.Registrations().Create(ctx, reg); err != nil {
				return translateStoreError(err, "create registration")
			}
			if err := tx.Tournaments().IncrementRegisteredCount(ctx, t.ID, 1); err != nil {
				return translateStoreError(err, "increment registered count")
			}
		case err != nil:
			return translateStoreError(err, "get registration")
		case reg.Status == models.RegistrationPending:
			reg.Status = models.RegistrationApproved
			reg.QualificationMethod = models.QualifiedByInvitation
			reg.ApprovedBy, reg.ApprovedAt = intPtr(actor.ID), timePtr(now)
			if err := tx.Registrations().UpdateStatus(ctx, reg, models.RegistrationPending); err != nil {
				return translateStoreError(err, "approve invited registration")
			}
		case !reg.Status.IsActive():
			return invalid("team_id", fmt.Sprintf("registration of team %d is %s", input.TeamID, reg.Status))
		}

		count, err := tx.Tournaments().RecountParticipatingTeams(ctx, t.ID)
		if err != nil {
			return translateStoreError(err, "recount participating teams")
		}
		if count > t.TotalSlots {
			return &ConflictError{Entity: "tournament", Reason: fmt.Sprintf("all %d slots are taken", t.TotalSlots)}
		}

		if _, err := tx.PhaseTeams().Add(ctx, &models.PhaseTeam{
			TournamentID: t.ID,
			Phase:        phase.Name,
			TeamID:       reg.TeamID,
			Group:        input.Group,
			Status:       models.MembershipActive,
			AddedAt:      now,
		}); err != nil {
			return translateStoreError(err, "add team to phase")
		}
		if err := tx.Registrations().UpdateProgress(ctx, reg.ID, stringPtr(phase.Name), input.Group, models.QualifiedByInvitation); err != nil {
			return translateStoreError(err, "update registration progress")
		}
		reg.CurrentPhase = stringPtr(phase.Name)
		reg.CurrentGroup = input.Group
		reg.QualificationMethod = models.QualifiedByInvitation
		result = reg
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := newEvent(models.EventRegistrationApproved, result.TournamentID, s.now())
	event.RegistrationID = result.ID
	event.TeamID = result.TeamID
	event.Phase = derefString(result.CurrentPhase)
	event.ActorID = actor.ID
	event.Reason = string(models.QualifiedByInvitation)
	s.events.Publish(event)
	return result, nil
}

// AssignGroups distributes the teams of a phase into named groups.
func (s *ProgressionService) AssignGroups(ctx context.Context, tournamentID int, phase string, assignments map[string][]int) (*models.Tournament, error) {
	if len(assignments) == 0 {
		return nil, invalid("groups", "at least one group is required")
	}
	names := make([]string, 0, len(assignments))
	owner := make(map[int]string)
	for name, teams := range assignments {
		if strings.TrimSpace(name) == "" {
			return nil, invalid("groups", "group name must not be empty")
		}
		for _, teamID := range teams {
			if other, ok := owner[teamID]; ok {
				return nil, invalid("groups", fmt.Sprintf("team %d is assigned to both %q and %q", teamID, other, name))
			}
			owner[teamID] = name
		}
		names = append(names, name)
	}
	slices.Sort(names)

	var result *models.Tournament
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Repositories) error {
		t, p, err := loadPhase(ctx, tx, tournamentID, phase)
		if err != nil {
			return err
		}
		if p.Status == models.PhaseCompleted {
			return invalid("phase", fmt.Sprintf("phase %q is already completed", phase))
		}

		for _, name := range names {
			for _, teamID := range assignments[name] {
				group := name
				if err := tx.PhaseTeams().SetGroup(ctx, t.ID, phase, teamID, &group); err != nil {
					if errors.Is(err, repositories.ErrPhaseTeamNotFound) {
						return invalid("groups", fmt.Sprintf("team %d is not a member of phase %q", teamID, phase))
					}
					return translateStoreError(err, "set team group")
				}
				reg, err := tx.Registrations().GetByTournamentAndTeam(ctx, t.ID, teamID)
				if err != nil {
					return translateStoreError(err, "get registration")
				}
				if derefString(reg.CurrentPhase) == phase {
					if err := tx.Registrations().UpdateProgress(ctx, reg.ID, reg.CurrentPhase, &group, reg.QualificationMethod); err != nil {
						return translateStoreError(err, "update registration group")
					}
				}
			}
		}
		if err := tx.Tournaments().UpdatePhaseGroups(ctx, t.ID, phase, names); err != nil {
			return translateStoreError(err, "update phase groups")
		}
		p.Groups = names
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func loadPhase(ctx context.Context, tx repositories.Repositories, tournamentID int, phase string) (*models.Tournament, *models.Phase, error) {
	t, err := tx.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		return nil, nil, translateStoreError(err, "get tournament")
	}
	p := t.Phase(phase)
	if p == nil {
		return nil, nil, notFound("phase", phase)
	}
	return t, p, nil
}
