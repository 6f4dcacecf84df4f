package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/repositories"
)

func twoPhases(rule *models.QualificationRule, finalsSlots int) []models.Phase {
	return []models.Phase{
		{Name: "qualifiers", Type: models.PhaseQualifiers, Groups: []string{"A", "B"}, Qualification: rule},
		{Name: "finals", Type: models.PhaseFinalStage, Slots: finalsSlots},
	}
}

func TestCreateTournament(t *testing.T) {
	e := newTestEngine(t)

	tour := &models.Tournament{
		Name:       "  Spring Series ",
		TotalSlots: 64,
		Phases:     twoPhases(&models.QualificationRule{Slots: 8, Source: models.QualifyPerGroup, NextPhase: "finals"}, 16),
	}
	require.NoError(t, e.tournaments.CreateTournament(e.ctx, tour, organizer))
	assert.NotZero(t, tour.ID)
	assert.Equal(t, "Spring Series", tour.Name)
	assert.Equal(t, organizer.ID, tour.OrganizerID)
	assert.Equal(t, models.TournamentRegistration, tour.Status)

	stored := e.tournament(t, tour.ID)
	require.Len(t, stored.Phases, 2)
	assert.Equal(t, "qualifiers", stored.Phases[0].Name)
	assert.Equal(t, 1, stored.Phases[1].Position)
	for _, p := range stored.Phases {
		assert.Equal(t, models.PhaseUpcoming, p.Status)
	}
	assert.True(t, stored.IsLastPhase("finals"))

	dup := &models.Tournament{Name: "Spring Series", TotalSlots: 8, Phases: twoPhases(nil, 0)}
	assert.ErrorIs(t, e.tournaments.CreateTournament(e.ctx, dup, organizer), ErrConflict)
}

func TestCreateTournament_Validation(t *testing.T) {
	e := newTestEngine(t)

	cases := []struct {
		name   string
		slots  int
		phases []models.Phase
	}{
		{"no phases", 16, nil},
		{"no slots", 0, twoPhases(nil, 0)},
		{"duplicate phase", 16, []models.Phase{
			{Name: "qualifiers", Type: models.PhaseQualifiers},
			{Name: "qualifiers", Type: models.PhaseFinalStage},
		}},
		{"unnamed phase", 16, []models.Phase{{Type: models.PhaseQualifiers}}},
		{"unknown type", 16, []models.Phase{{Name: "groups", Type: "swiss"}}},
		{"next phase missing", 16, twoPhases(&models.QualificationRule{Slots: 2, NextPhase: "semis"}, 0)},
		{"next phase earlier", 16, []models.Phase{
			{Name: "qualifiers", Type: models.PhaseQualifiers},
			{Name: "finals", Type: models.PhaseFinalStage, Qualification: &models.QualificationRule{Slots: 2, NextPhase: "qualifiers"}},
		}},
		{"overall exceeds capacity", 16, twoPhases(&models.QualificationRule{Slots: 20, Source: models.QualifyOverall, NextPhase: "finals"}, 16)},
		{"per group exceeds capacity", 16, twoPhases(&models.QualificationRule{Slots: 9, Source: models.QualifyPerGroup, NextPhase: "finals"}, 16)},
		{"unknown source", 16, twoPhases(&models.QualificationRule{Slots: 2, Source: "random", NextPhase: "finals"}, 16)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tour := &models.Tournament{Name: "Invalid " + tc.name, TotalSlots: tc.slots, Phases: tc.phases}
			err := e.tournaments.CreateTournament(e.ctx, tour, organizer)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Zero(t, tour.ID)
		})
	}
}

func TestListTournaments(t *testing.T) {
	e := newTestEngine(t)
	first := e.newCup(t, models.QualificationRule{Slots: 2}, 32)
	second := e.newCup(t, models.QualificationRule{Slots: 2}, 32)
	require.NoError(t, e.store.Tournaments().UpdateStatus(e.ctx, first.ID, models.TournamentInProgress))

	all, err := e.tournaments.ListTournaments(e.ctx, repositories.ListTournamentsFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	status := models.TournamentInProgress
	running, err := e.tournaments.ListTournaments(e.ctx, repositories.ListTournamentsFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, first.ID, running[0].ID)

	page, err := e.tournaments.ListTournaments(e.ctx, repositories.ListTournamentsFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Contains(t, []int{first.ID, second.ID}, page[0].ID)

	_, err = e.tournaments.GetTournament(e.ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}
