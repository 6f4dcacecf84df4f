package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/repositories"
	"github.com/Dosada05/tournament-standings/scoring"
)

var organizer = models.Actor{ID: 7, Role: models.RoleOrganizer}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Publish(event models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) ofType(eventType models.EventType) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Event
	for _, e := range s.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

type testEngine struct {
	ctx            context.Context
	store          *repositories.MemoryStore
	sink           *recordingSink
	logger         *slog.Logger
	tournaments    *TournamentService
	registrations  *RegistrationService
	matches        *MatchService
	standings      *StandingService
	phaseStandings *PhaseStandingService
	progression    *ProgressionService

	nextTeamID int
	nextCup    int
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	store := repositories.NewMemoryStore()
	sink := &recordingSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	phaseStandings := NewPhaseStandingService(store, sink, logger, 5*time.Minute, 2)
	registrations := NewRegistrationService(store, sink, logger)
	return &testEngine{
		ctx:            context.Background(),
		store:          store,
		sink:           sink,
		logger:         logger,
		tournaments:    NewTournamentService(store, logger),
		registrations:  registrations,
		matches:        NewMatchService(store, registrations, scoring.NewCalculator(scoring.DefaultKillWeight), phaseStandings, sink, logger),
		standings:      NewStandingService(store),
		phaseStandings: phaseStandings,
		progression:    NewProgressionService(store, phaseStandings, nil, sink, logger),
		nextTeamID:     100,
	}
}

// newCup creates a tournament with a qualifiers phase advancing into a finals phase.
func (e *testEngine) newCup(t *testing.T, rule models.QualificationRule, totalSlots int) *models.Tournament {
	t.Helper()
	rule.NextPhase = "finals"
	if rule.Source == "" {
		rule.Source = models.QualifyOverall
	}
	e.nextCup++
	tour := &models.Tournament{
		Name:       fmt.Sprintf("Battlegrounds Cup #%d", e.nextCup),
		TotalSlots: totalSlots,
		Phases: []models.Phase{
			{Name: "qualifiers", Type: models.PhaseQualifiers, Qualification: &rule},
			{Name: "finals", Type: models.PhaseFinalStage, Slots: 16},
		},
	}
	require.NoError(t, e.tournaments.CreateTournament(e.ctx, tour, organizer))
	return tour
}

func (e *testEngine) register(t *testing.T, tournamentID int) *models.Registration {
	t.Helper()
	e.nextTeamID++
	reg, err := e.registrations.Register(e.ctx, RegisterInput{
		TournamentID: tournamentID,
		TeamID:       e.nextTeamID,
		TeamName:     fmt.Sprintf("Team %d", e.nextTeamID),
		Roster:       []string{"alpha", "bravo", "charlie", "delta"},
	})
	require.NoError(t, err)
	return reg
}

func (e *testEngine) approvedTeam(t *testing.T, tournamentID int) *models.Registration {
	t.Helper()
	reg := e.register(t, tournamentID)
	approved, err := e.registrations.Approve(e.ctx, reg.ID, organizer)
	require.NoError(t, err)
	return approved
}

func (e *testEngine) approvedTeams(t *testing.T, tournamentID, n int) []*models.Registration {
	t.Helper()
	regs := make([]*models.Registration, n)
	for i := range regs {
		regs[i] = e.approvedTeam(t, tournamentID)
	}
	return regs
}

func (e *testEngine) registration(t *testing.T, id int) *models.Registration {
	t.Helper()
	reg, err := e.registrations.Get(e.ctx, id)
	require.NoError(t, err)
	return reg
}

func (e *testEngine) tournament(t *testing.T, id int) *models.Tournament {
	t.Helper()
	tour, err := e.tournaments.GetTournament(e.ctx, id)
	require.NoError(t, err)
	return tour
}

func res(teamID, position, kills int) ResultInput {
	return ResultInput{TeamID: teamID, Position: &position, Kills: kills}
}

func (e *testEngine) createMatch(t *testing.T, tournamentID int, phase string, teamIDs ...int) *models.Match {
	t.Helper()
	m, err := e.matches.CreateMatch(e.ctx, CreateMatchInput{TournamentID: tournamentID, Phase: phase, TeamIDs: teamIDs})
	require.NoError(t, err)
	return m
}

// playMatch creates, scores and finalizes a match between the teams named in results.
func (e *testEngine) playMatch(t *testing.T, tournamentID int, phase string, results ...ResultInput) *models.Match {
	t.Helper()
	teamIDs := make([]int, len(results))
	for i, r := range results {
		teamIDs[i] = r.TeamID
	}
	m := e.createMatch(t, tournamentID, phase, teamIDs...)
	_, err := e.matches.RecordResults(e.ctx, m.ID, results, organizer)
	require.NoError(t, err)
	m, err = e.matches.FinalizeMatch(e.ctx, m.ID, organizer)
	require.NoError(t, err)
	return m
}

func teamIDsOf(regs []*models.Registration) []int {
	ids := make([]int, len(regs))
	for i, r := range regs {
		ids[i] = r.TeamID
	}
	return ids
}
