package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/repositories"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type TournamentService struct {
	store  repositories.Store
	logger *slog.Logger
}

func NewTournamentService(store repositories.Store, logger *slog.Logger) *TournamentService {
	return &TournamentService{store: store, logger: logger}
}

// CreateTournament validates the phase layout and stores the tournament with all phases upcoming.
func (s *TournamentService) CreateTournament(ctx context.Context, t *models.Tournament, actor models.Actor) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return invalid("name", "is required")
	}
	if t.TotalSlots <= 0 {
		return invalid("total_slots", "must be positive")
	}
	if err := validatePhases(t.Phases); err != nil {
		return err
	}

	t.OrganizerID = actor.ID
	if t.Status == "" {
		t.Status = models.TournamentRegistration
	}
	if t.Status != models.TournamentUpcoming && t.Status != models.TournamentRegistration {
		return invalid("status", "a new tournament is upcoming or open for registration")
	}
	t.RegisteredTeamsCount = 0
	t.ParticipatingTeamsCount = 0
	for i := range t.Phases {
		t.Phases[i].Status = models.PhaseUpcoming
		t.Phases[i].Position = i
	}

	if err := s.store.Tournaments().Create(ctx, t); err != nil {
		return translateStoreError(err, "create tournament")
	}
	s.logger.Info("tournament created",
		slog.Int("tournament_id", t.ID),
		slog.Int("organizer_id", t.OrganizerID),
		slog.Int("phases", len(t.Phases)))
	return nil
}

func validatePhases(phases []models.Phase) error {
	if len(phases) == 0 {
		return invalid("phases", "at least one phase is required")
	}
	index := make(map[string]int, len(phases))
	for i := range phases {
		p := &phases[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return invalid("phases", fmt.Sprintf("phase %d has no name", i))
		}
		if _, dup := index[p.Name]; dup {
			return invalid("phases", fmt.Sprintf("phase name %q is used twice", p.Name))
		}
		index[p.Name] = i
		if p.Type != models.PhaseQualifiers && p.Type != models.PhaseFinalStage {
			return invalid("phases", fmt.Sprintf("phase %q has unknown type %q", p.Name, p.Type))
		}
		if p.Slots < 0 {
			return invalid("phases", fmt.Sprintf("phase %q has negative slots", p.Name))
		}
		if !p.StartsAt.IsZero() && !p.EndsAt.IsZero() && p.EndsAt.Before(p.StartsAt) {
			return invalid("phases", fmt.Sprintf("phase %q ends before it starts", p.Name))
		}
	}

	for i := range phases {
		p := &phases[i]
		rule := p.Qualification
		if rule == nil {
			continue
		}
		field := fmt.Sprintf("phases[%s].qualification", p.Name)
		if rule.Slots <= 0 {
			return invalid(field, "slots must be positive")
		}
		if rule.Source == "" {
			rule.Source = models.QualifyOverall
		}
		if rule.Source != models.QualifyOverall && rule.Source != models.QualifyPerGroup {
			return invalid(field, fmt.Sprintf("unknown source %q", rule.Source))
		}
		next, ok := index[rule.NextPhase]
		if !ok || next <= i {
			return invalid(field, fmt.Sprintf("next phase %q must name a later phase", rule.NextPhase))
		}
		capacity := phases[next].Slots
		if capacity > 0 && rule.Output(len(p.Groups)) > capacity {
			return invalid(field, fmt.Sprintf("advances %d teams but phase %q has %d slots",
				rule.Output(len(p.Groups)), rule.NextPhase, capacity))
		}
	}
	return nil
}

func (s *TournamentService) GetTournament(ctx context.Context, id int) (*models.Tournament, error) {
	t, err := s.store.Tournaments().GetByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "get tournament")
	}
	return t, nil
}

func (s *TournamentService) ListTournaments(ctx context.Context, filter repositories.ListTournamentsFilter) ([]models.Tournament, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	list, err := s.store.Tournaments().List(ctx, filter)
	if err != nil {
		return nil, translateStoreError(err, "list tournaments")
	}
	return list, nil
}
