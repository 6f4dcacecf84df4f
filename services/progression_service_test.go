package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-standings/models"
)

func phaseMembers(t *testing.T, e *testEngine, tournamentID int, phase string) []int {
	t.Helper()
	members, err := e.store.PhaseTeams().ListByPhase(e.ctx, tournamentID, phase)
	require.NoError(t, err)
	ids := make([]int, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.TeamID)
	}
	return ids
}

func eventTeams(events []models.Event) []int {
	ids := make([]int, len(events))
	for i, ev := range events {
		ids[i] = ev.TeamID
	}
	return ids
}

func TestStartPhase(t *testing.T) {
	e := newTestEngine(t)
	tour := e.newCup(t, models.QualificationRule{Slots: 2}, 32)

	_, err := e.progression.StartPhase(e.ctx, tour.ID, "finals", organizer)
	assert.ErrorIs(t, err, ErrValidation)

	ps, err := e.progression.StartPhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseInProgress, ps.Status)
	assert.Nil(t, ps.LastCalculated)

	after := e.tournament(t, tour.ID)
	assert.Equal(t, models.TournamentInProgress, after.Status)
	assert.Equal(t, models.PhaseInProgress, after.Phase("qualifiers").Status)

	_, err = e.progression.StartPhase(e.ctx, tour.ID, "qualifiers", organizer)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = e.progression.StartPhase(e.ctx, tour.ID, "semis", organizer)
	assert.ErrorIs(t, err, ErrNotFound)

	require.Len(t, e.sink.ofType(models.EventPhaseStarted), 1)
}

func TestCompletePhase_TopTwoOverall(t *testing.T) {
	e := newTestEngine(t)
	tour := e.newCup(t, models.QualificationRule{Slots: 2, Source: models.QualifyOverall}, 32)
	regs := e.approvedTeams(t, tour.ID, 5)
	_, err := e.progression.StartPhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)

	// finishing order: 3, 0, 4, 1, 2
	e.playMatch(t, tour.ID, "qualifiers",
		res(regs[3].TeamID, 1, 4), res(regs[0].TeamID, 2, 2), res(regs[4].TeamID, 3, 1),
		res(regs[1].TeamID, 4, 0), res(regs[2].TeamID, 5, 0))

	ps, err := e.progression.CompletePhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, ps.Status)

	qualified := []int{regs[3].TeamID, regs[0].TeamID}
	eliminated := []int{regs[4].TeamID, regs[1].TeamID, regs[2].TeamID}
	assert.ElementsMatch(t, qualified, ps.QualifiedTeams)
	assert.ElementsMatch(t, eliminated, ps.EliminatedTeams)
	assert.ElementsMatch(t, qualified, phaseMembers(t, e, tour.ID, "finals"))

	for _, reg := range []*models.Registration{regs[3], regs[0]} {
		after := e.registration(t, reg.ID)
		require.NotNil(t, after.CurrentPhase)
		assert.Equal(t, "finals", *after.CurrentPhase)
		assert.Equal(t, models.QualifiedByStandings, after.QualificationMethod)
	}
	for _, teamID := range eliminated {
		member, err := e.store.PhaseTeams().Get(e.ctx, tour.ID, "qualifiers", teamID)
		require.NoError(t, err)
		assert.Equal(t, models.MembershipEliminated, member.Status)
	}

	assert.ElementsMatch(t, qualified, eventTeams(e.sink.ofType(models.EventTeamQualified)))
	assert.ElementsMatch(t, eliminated, eventTeams(e.sink.ofType(models.EventTeamEliminated)))
	assert.Len(t, e.sink.ofType(models.EventPhaseCompleted), 1)

	tourAfter := e.tournament(t, tour.ID)
	assert.Equal(t, models.PhaseCompleted, tourAfter.Phase("qualifiers").Status)
	assert.Equal(t, models.TournamentInProgress, tourAfter.Status)

	_, err = e.progression.CompletePhase(e.ctx, tour.ID, "qualifiers", organizer)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCompletePhase_FewerTeamsThanSlots(t *testing.T) {
	e := newTestEngine(t)
	tour := e.newCup(t, models.QualificationRule{Slots: 5}, 32)
	regs := e.approvedTeams(t, tour.ID, 3)
	_, err := e.progression.StartPhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	e.playMatch(t, tour.ID, "qualifiers", res(regs[0].TeamID, 1, 0), res(regs[1].TeamID, 2, 0), res(regs[2].TeamID, 3, 0))

	ps, err := e.progression.CompletePhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	assert.ElementsMatch(t, teamIDsOf(regs), ps.QualifiedTeams)
	assert.Empty(t, ps.EliminatedTeams)
	assert.ElementsMatch(t, teamIDsOf(regs), phaseMembers(t, e, tour.ID, "finals"))
	assert.Empty(t, e.sink.ofType(models.EventTeamEliminated))
}

func TestCompletePhase_PerGroup(t *testing.T) {
	e := newTestEngine(t)
	tour := e.newCup(t, models.QualificationRule{Slots: 1, Source: models.QualifyPerGroup}, 32)
	regs := e.approvedTeams(t, tour.ID, 4)
	_, err := e.progression.AssignGroups(e.ctx, tour.ID, "qualifiers", map[string][]int{
		"A": {regs[0].TeamID, regs[1].TeamID},
		"B": {regs[2].TeamID, regs[3].TeamID},
	})
	require.NoError(t, err)
	_, err = e.progression.StartPhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)

	// group B's runner-up outscores group A's winner
	e.playMatch(t, tour.ID, "qualifiers",
		res(regs[2].TeamID, 1, 5), res(regs[3].TeamID, 2, 5), res(regs[1].TeamID, 3, 0), res(regs[0].TeamID, 4, 0))

	ps, err := e.progression.CompletePhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{regs[2].TeamID, regs[1].TeamID}, ps.QualifiedTeams)
	assert.ElementsMatch(t, []int{regs[3].TeamID, regs[0].TeamID}, ps.EliminatedTeams)
	require.Len(t, ps.Groups, 2)
	assert.Equal(t, "A", ps.Groups[0].Name)
	assert.Equal(t, regs[1].TeamID, ps.Groups[0].Leader.TeamID)
}

func TestApplyQualification_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	tour := e.newCup(t, models.QualificationRule{Slots: 2}, 32)
	regs := e.approvedTeams(t, tour.ID, 4)
	_, err := e.progression.StartPhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	e.playMatch(t, tour.ID, "qualifiers",
		res(regs[0].TeamID, 1, 0), res(regs[1].TeamID, 2, 0), res(regs[2].TeamID, 3, 0), res(regs[3].TeamID, 4, 0))

	_, err = e.progression.ApplyQualification(e.ctx, tour.ID, "qualifiers")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.progression.CompletePhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	before := phaseMembers(t, e, tour.ID, "finals")

	result, err := e.progression.ApplyQualification(e.ctx, tour.ID, "qualifiers")
	require.NoError(t, err)
	assert.Empty(t, result.Qualified)
	assert.Empty(t, result.Eliminated)
	assert.Equal(t, "finals", result.NextPhase)
	assert.ElementsMatch(t, before, phaseMembers(t, e, tour.ID, "finals"))
	assert.Len(t, e.sink.ofType(models.EventTeamQualified), 2)
}

func TestApplyQualification_WithdrawsOutrankedQualifier(t *testing.T) {
	e := newTestEngine(t)
	tour := e.newCup(t, models.QualificationRule{Slots: 1}, 32)
	a, b := e.approvedTeam(t, tour.ID), e.approvedTeam(t, tour.ID)
	_, err := e.progression.StartPhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	e.playMatch(t, tour.ID, "qualifiers", res(a.TeamID, 1, 1), res(b.TeamID, 2, 0))

	_, err = e.progression.CompletePhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	require.Equal(t, []int{a.TeamID}, phaseMembers(t, e, tour.ID, "finals"))

	// manual correction after the phase closed
	require.NoError(t, e.registrations.UpdateStats(e.ctx, b.ID, "qualifiers", models.StatsDelta{Points: 50}))

	result, err := e.progression.ApplyQualification(e.ctx, tour.ID, "qualifiers")
	require.NoError(t, err)
	assert.Equal(t, []int{b.TeamID}, result.Qualified)
	assert.Equal(t, []int{a.TeamID}, result.Eliminated)
	assert.Equal(t, []int{b.TeamID}, phaseMembers(t, e, tour.ID, "finals"))

	demoted := e.registration(t, a.ID)
	require.NotNil(t, demoted.CurrentPhase)
	assert.Equal(t, "qualifiers", *demoted.CurrentPhase)
	assert.Equal(t, models.QualifiedByRegistration, demoted.QualificationMethod)

	member, err := e.store.PhaseTeams().Get(e.ctx, tour.ID, "qualifiers", a.TeamID)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipEliminated, member.Status)

	// once the next phase runs the qualification is final
	_, err = e.progression.StartPhase(e.ctx, tour.ID, "finals", organizer)
	require.NoError(t, err)
	require.NoError(t, e.registrations.UpdateStats(e.ctx, a.ID, "qualifiers", models.StatsDelta{Points: 100}))
	_, err = e.progression.ApplyQualification(e.ctx, tour.ID, "qualifiers")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, []int{b.TeamID}, phaseMembers(t, e, tour.ID, "finals"))
}

func TestCompletePhase_ForcesFreshStandings(t *testing.T) {
	e := newTestEngine(t)
	tour := e.newCup(t, models.QualificationRule{Slots: 1}, 32)
	a, b := e.approvedTeam(t, tour.ID), e.approvedTeam(t, tour.ID)
	_, err := e.progression.StartPhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	e.playMatch(t, tour.ID, "qualifiers", res(a.TeamID, 1, 0), res(b.TeamID, 2, 0))

	// the aggregates move after the snapshot was taken, so its ranking no longer matches
	require.NoError(t, e.registrations.UpdateStats(e.ctx, b.ID, "qualifiers", models.StatsDelta{Points: 20}))

	ps, err := e.progression.CompletePhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	require.NotEmpty(t, ps.TopTeams)
	assert.Equal(t, b.TeamID, ps.TopTeams[0].TeamID)
	assert.Equal(t, []int{b.TeamID}, ps.QualifiedTeams)
	assert.Equal(t, []int{b.TeamID}, phaseMembers(t, e, tour.ID, "finals"))
}

func TestCompletePhase_NeverCalculatedSnapshot(t *testing.T) {
	e := newTestEngine(t)
	tour := e.newCup(t, models.QualificationRule{Slots: 1}, 32)
	regs := e.approvedTeams(t, tour.ID, 2)
	_, err := e.progression.StartPhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)

	ps, err := e.progression.CompletePhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	require.NotNil(t, ps.LastCalculated)
	// without results the earlier registration ranks first
	assert.Equal(t, []int{regs[0].TeamID}, ps.QualifiedTeams)
}

func TestCompletePhase_LastPhaseFinishesTournament(t *testing.T) {
	e := newTestEngine(t)
	tour := e.newCup(t, models.QualificationRule{Slots: 2}, 32)
	regs := e.approvedTeams(t, tour.ID, 3)
	_, err := e.progression.StartPhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	e.playMatch(t, tour.ID, "qualifiers", res(regs[0].TeamID, 1, 0), res(regs[1].TeamID, 2, 0), res(regs[2].TeamID, 3, 0))
	_, err = e.progression.CompletePhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)

	_, err = e.progression.StartPhase(e.ctx, tour.ID, "finals", organizer)
	require.NoError(t, err)
	e.playMatch(t, tour.ID, "finals", res(regs[1].TeamID, 1, 3), res(regs[0].TeamID, 2, 0))

	ps, err := e.progression.CompletePhase(e.ctx, tour.ID, "finals", organizer)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, ps.Status)

	after := e.tournament(t, tour.ID)
	assert.Equal(t, models.TournamentCompleted, after.Status)

	champion := e.registration(t, regs[1].ID)
	require.NotNil(t, champion.FinalPosition)
	assert.Equal(t, 1, *champion.FinalPosition)
	assert.True(t, champion.IsFinal(after))

	runnerUp := e.registration(t, regs[0].ID)
	require.NotNil(t, runnerUp.FinalPosition)
	assert.Equal(t, 2, *runnerUp.FinalPosition)

	assert.Nil(t, e.registration(t, regs[2].ID).FinalPosition)
}

type archiveFunc func(ctx context.Context, ps *models.PhaseStanding) (string, error)

func (f archiveFunc) Archive(ctx context.Context, ps *models.PhaseStanding) (string, error) {
	return f(ctx, ps)
}

func TestCompletePhase_ArchivesFinalSnapshot(t *testing.T) {
	e := newTestEngine(t)
	var archived []*models.PhaseStanding
	e.progression = NewProgressionService(e.store, e.phaseStandings, archiveFunc(func(_ context.Context, ps *models.PhaseStanding) (string, error) {
		archived = append(archived, ps)
		if len(archived) > 1 {
			return "", errors.New("bucket unavailable")
		}
		return "standings/archive.json", nil
	}), e.sink, e.logger)

	tour := e.newCup(t, models.QualificationRule{Slots: 1}, 32)
	regs := e.approvedTeams(t, tour.ID, 2)
	_, err := e.progression.StartPhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)
	e.playMatch(t, tour.ID, "qualifiers", res(regs[0].TeamID, 1, 0), res(regs[1].TeamID, 2, 0))
	_, err = e.progression.CompletePhase(e.ctx, tour.ID, "qualifiers", organizer)
	require.NoError(t, err)

	require.Len(t, archived, 1)
	assert.Equal(t, "qualifiers", archived[0].Phase)
	assert.Equal(t, models.PhaseCompleted, archived[0].Status)

	// archive failures are logged and do not undo the completion
	_, err = e.progression.StartPhase(e.ctx, tour.ID, "finals", organizer)
	require.NoError(t, err)
	_, err = e.progression.CompletePhase(e.ctx, tour.ID, "finals", organizer)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentCompleted, e.tournament(t, tour.ID).Status)
}

func TestInviteTeam(t *testing.T) {
	e := newTestEngine(t)
	tour := e.newCup(t, models.QualificationRule{Slots: 2}, 32)

	invited, err := e.progression.InviteTeam(e.ctx, InviteInput{TournamentID: tour.ID, TeamID: 501, TeamName: "Invited Stars"}, organizer)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationApproved, invited.Status)
	assert.Equal(t, models.QualifiedByInvitation, invited.QualificationMethod)
	require.NotNil(t, invited.CurrentPhase)
	assert.Equal(t, "qualifiers", *invited.CurrentPhase)
	assert.Contains(t, phaseMembers(t, e, tour.ID, "qualifiers"), 501)

	after := e.tournament(t, tour.ID)
	assert.Equal(t, 1, after.RegisteredTeamsCount)
	assert.Equal(t, 1, after.ParticipatingTeamsCount)

	pending := e.register(t, tour.ID)
	promoted, err := e.progression.InviteTeam(e.ctx, InviteInput{TournamentID: tour.ID, TeamID: pending.TeamID, Phase: "finals"}, organizer)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, promoted.ID)
	assert.Equal(t, models.RegistrationApproved, e.registration(t, pending.ID).Status)
	assert.Contains(t, phaseMembers(t, e, tour.ID, "finals"), pending.TeamID)
	assert.Equal(t, 2, e.tournament(t, tour.ID).RegisteredTeamsCount)

	rejected := e.register(t, tour.ID)
	_, err = e.registrations.Reject(e.ctx, rejected.ID, organizer, "banned")
	require.NoError(t, err)
	_, err = e.progression.InviteTeam(e.ctx, InviteInput{TournamentID: tour.ID, TeamID: rejected.TeamID}, organizer)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.progression.InviteTeam(e.ctx, InviteInput{TournamentID: tour.ID, TeamID: 777}, organizer)
	assert.ErrorIs(t, err, ErrValidation)

	// inviting twice keeps a single phase entry
	_, err = e.progression.InviteTeam(e.ctx, InviteInput{TournamentID: tour.ID, TeamID: 501}, organizer)
	require.NoError(t, err)
	count, err := e.store.PhaseTeams().Count(e.ctx, tour.ID, "qualifiers")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAssignGroups(t *testing.T) {
	e := newTestEngine(t)
	tour := e.newCup(t, models.QualificationRule{Slots: 2}, 32)
	regs := e.approvedTeams(t, tour.ID, 3)
	outsider := e.register(t, tour.ID)

	updated, err := e.progression.AssignGroups(e.ctx, tour.ID, "qualifiers", map[string][]int{
		"B": {regs[2].TeamID},
		"A": {regs[0].TeamID, regs[1].TeamID},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, updated.Phase("qualifiers").Groups)

	member, err := e.store.PhaseTeams().Get(e.ctx, tour.ID, "qualifiers", regs[2].TeamID)
	require.NoError(t, err)
	assert.True(t, member.InGroup("B"))

	reg := e.registration(t, regs[0].ID)
	require.NotNil(t, reg.CurrentGroup)
	assert.Equal(t, "A", *reg.CurrentGroup)

	_, err = e.progression.AssignGroups(e.ctx, tour.ID, "qualifiers", map[string][]int{
		"A": {regs[0].TeamID},
		"B": {regs[0].TeamID},
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.progression.AssignGroups(e.ctx, tour.ID, "qualifiers", map[string][]int{"A": {outsider.TeamID}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.progression.AssignGroups(e.ctx, tour.ID, "qualifiers", nil)
	assert.ErrorIs(t, err, ErrValidation)
}
