package repositories

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-standings/models"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

var fixedTime = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func TestTournamentRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresTournamentRepository(db)

	tour := &models.Tournament{
		Name: "Night Cup", OrganizerID: 7, Status: models.TournamentRegistration, TotalSlots: 32,
		Phases: []models.Phase{
			{Name: "qualifiers", Type: models.PhaseQualifiers, Status: models.PhaseUpcoming,
				Qualification: &models.QualificationRule{Slots: 4, Source: models.QualifyOverall, NextPhase: "finals"}},
			{Name: "finals", Type: models.PhaseFinalStage, Status: models.PhaseUpcoming, Slots: 16},
		},
	}

	mock.ExpectQuery(q("INSERT INTO tournaments (name, organizer_id, status, total_slots)")).
		WithArgs("Night Cup", 7, models.TournamentRegistration, 32).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "registered_teams_count", "participating_teams_count"}).
			AddRow(5, fixedTime, 0, 0))
	mock.ExpectExec(q("INSERT INTO tournament_phases")).
		WithArgs(5, "qualifiers", models.PhaseQualifiers, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), models.PhaseUpcoming, 0, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO tournament_phases")).
		WithArgs(5, "finals", models.PhaseFinalStage, 1, sqlmock.AnyArg(), sqlmock.AnyArg(), models.PhaseUpcoming, 16, sqlmock.AnyArg(),
			nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), tour))
	assert.Equal(t, 5, tour.ID)
	assert.Equal(t, 1, tour.Phases[1].Position)
}

func TestTournamentRepository_CreateNameConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresTournamentRepository(db)

	mock.ExpectQuery(q("INSERT INTO tournaments")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tournaments_organizer_id_name_key"})

	err := repo.Create(context.Background(), &models.Tournament{Name: "Night Cup"})
	assert.ErrorIs(t, err, ErrTournamentNameConflict)
}

func TestTournamentRepository_GetByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresTournamentRepository(db)

	mock.ExpectQuery(q("FROM tournaments")).WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "organizer_id", "status", "total_slots",
			"registered_teams_count", "participating_teams_count", "created_at"}).
			AddRow(5, "Night Cup", 7, "in_progress", 32, 10, 8, fixedTime))
	mock.ExpectQuery(q("FROM tournament_phases")).WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "position", "starts_at", "ends_at", "status", "slots", "groups",
			"qualification_slots", "qualification_source", "next_phase"}).
			AddRow("qualifiers", "qualifiers", 0, fixedTime, fixedTime, "in_progress", 0, "{A,B}", 2, "per_group", "finals").
			AddRow("finals", "final_stage", 1, fixedTime, fixedTime, "upcoming", 16, "{}", nil, nil, nil))

	tour, err := repo.GetByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentInProgress, tour.Status)
	require.Len(t, tour.Phases, 2)
	assert.Equal(t, []string{"A", "B"}, tour.Phases[0].Groups)
	require.NotNil(t, tour.Phases[0].Qualification)
	assert.Equal(t, models.QualificationRule{Slots: 2, Source: models.QualifyPerGroup, NextPhase: "finals"}, *tour.Phases[0].Qualification)
	assert.Nil(t, tour.Phases[1].Qualification)
}

func TestTournamentRepository_NotFoundAndConflicts(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresTournamentRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(q("FROM tournaments")).WithArgs(404).WillReturnError(sql.ErrNoRows)
	_, err := repo.GetByID(ctx, 404)
	assert.ErrorIs(t, err, ErrTournamentNotFound)

	mock.ExpectExec(q("UPDATE tournament_phases SET status = $1")).
		WithArgs(models.PhaseCompleted, 5, "qualifiers", models.PhaseInProgress).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.UpdatePhaseStatus(ctx, 5, "qualifiers", models.PhaseInProgress, models.PhaseCompleted)
	assert.ErrorIs(t, err, ErrPhaseStatusConflict)

	mock.ExpectExec(q("UPDATE tournaments SET registered_teams_count")).
		WithArgs(1, 404).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.IncrementRegisteredCount(ctx, 404, 1), ErrTournamentNotFound)
}

func TestTournamentRepository_RecountParticipatingTeams(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresTournamentRepository(db)

	mock.ExpectQuery(q("SET participating_teams_count = (")).
		WithArgs(5, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"participating_teams_count"}).AddRow(12))

	count, err := repo.RecountParticipatingTeams(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 12, count)
}

func TestTournamentRepository_LockForUpdate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresTournamentRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(q("SELECT id FROM tournaments WHERE id = $1 FOR UPDATE")).WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	require.NoError(t, repo.LockForUpdate(ctx, 5))

	mock.ExpectQuery(q("FOR UPDATE")).WithArgs(404).WillReturnError(sql.ErrNoRows)
	assert.ErrorIs(t, repo.LockForUpdate(ctx, 404), ErrTournamentNotFound)
}

func TestPhaseTeamRepository_Remove(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPhaseTeamRepository(db)
	ctx := context.Background()

	mock.ExpectExec(q("DELETE FROM phase_teams WHERE tournament_id = $1 AND phase = $2 AND team_id = $3")).
		WithArgs(5, "finals", 101).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Remove(ctx, 5, "finals", 101))

	mock.ExpectExec(q("DELETE FROM phase_teams")).
		WithArgs(5, "finals", 102).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Remove(ctx, 5, "finals", 102), ErrPhaseTeamNotFound)
}

func TestTournamentRepository_ListFilters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresTournamentRepository(db)

	organizer := 7
	status := models.TournamentRegistration
	mock.ExpectQuery(q("AND organizer_id = $1 AND status = $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4")).
		WithArgs(7, status, 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "organizer_id", "status", "total_slots",
			"registered_teams_count", "participating_teams_count", "created_at"}).
			AddRow(9, "Night Cup", 7, "registration", 32, 0, 0, fixedTime))

	list, err := repo.List(context.Background(), ListTournamentsFilter{OrganizerID: &organizer, Status: &status, Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 9, list[0].ID)
}

func registrationRow() *sqlmock.Rows {
	cols := []string{"id", "tournament_id", "team_id", "team_name", "status", "qualification_method", "current_phase", "current_group",
		"total_points", "total_kills", "chicken_dinners", "matches_played", "position_sum", "final_position", "roster",
		"approved_by", "approved_at", "rejected_by", "rejected_at", "rejection_reason",
		"checked_in_by", "checked_in_at", "disqualified_by", "disqualified_at", "disqualification_reason",
		"withdrawn_by", "withdrawn_at", "withdrawal_reason", "version", "created_at", "updated_at"}
	return sqlmock.NewRows(cols).AddRow(
		3, 5, 101, "Team 101", "approved", "open_registration", "qualifiers", nil,
		24, 9, 1, 2, 3, nil, "{alpha,bravo}",
		7, fixedTime, nil, nil, nil,
		nil, nil, nil, nil, nil,
		nil, nil, nil, 2, fixedTime, fixedTime,
	)
}

func TestRegistrationRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresRegistrationRepository(db)
	ctx := context.Background()

	reg := &models.Registration{TournamentID: 5, TeamID: 101, TeamName: "Team 101",
		Status: models.RegistrationPending, QualificationMethod: models.QualifiedByRegistration, Roster: []string{"alpha"}}

	mock.ExpectQuery(q("INSERT INTO registrations")).
		WithArgs(5, 101, "Team 101", models.RegistrationPending, models.QualifiedByRegistration, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at"}).AddRow(3, 0, fixedTime, fixedTime))
	require.NoError(t, repo.Create(ctx, reg))
	assert.Equal(t, 3, reg.ID)

	mock.ExpectQuery(q("INSERT INTO registrations")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "registrations_tournament_id_team_id_key"})
	assert.ErrorIs(t, repo.Create(ctx, reg), ErrRegistrationConflict)

	mock.ExpectQuery(q("INSERT INTO registrations")).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "registrations_tournament_id_fkey"})
	assert.ErrorIs(t, repo.Create(ctx, reg), ErrTournamentNotFound)
}

func TestRegistrationRepository_GetByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresRegistrationRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(q("FROM registrations WHERE id = $1")).WithArgs(3).WillReturnRows(registrationRow())
	reg, err := repo.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo"}, reg.Roster)
	require.NotNil(t, reg.CurrentPhase)
	assert.Equal(t, "qualifiers", *reg.CurrentPhase)
	assert.Nil(t, reg.CurrentGroup)
	assert.Equal(t, 24, reg.TotalPoints)
	require.NotNil(t, reg.ApprovedBy)
	assert.Equal(t, 7, *reg.ApprovedBy)

	mock.ExpectQuery(q("FROM registrations WHERE id = $1")).WithArgs(4).WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByID(ctx, 4)
	assert.ErrorIs(t, err, ErrRegistrationNotFound)
}

func TestRegistrationRepository_UpdateStatusIsConditional(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresRegistrationRepository(db)
	ctx := context.Background()

	reg := &models.Registration{ID: 3, Status: models.RegistrationApproved, Version: 2}

	mock.ExpectQuery(q("WHERE id = $19 AND status = $20 AND version = $21")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
	require.NoError(t, repo.UpdateStatus(ctx, reg, models.RegistrationPending))
	assert.Equal(t, 3, reg.Version)

	mock.ExpectQuery(q("WHERE id = $19 AND status = $20 AND version = $21")).WillReturnError(sql.ErrNoRows)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, reg, models.RegistrationPending), ErrRegistrationStale)
}

func TestRegistrationRepository_ApplyStatsDelta(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresRegistrationRepository(db)
	ctx := context.Background()
	delta := models.StatsDelta{Points: 15, Kills: 5, ChickenDinners: 1, MatchesPlayed: 1, PositionSum: 1}

	mock.ExpectExec(q("INSERT INTO registration_phase_stats")).
		WithArgs(3, 15, 5, 1, 1, 1, "qualifiers").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.ApplyStatsDelta(ctx, 3, "qualifiers", delta))

	mock.ExpectExec(q("INSERT INTO registration_phase_stats")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.ApplyStatsDelta(ctx, 404, "qualifiers", delta), ErrRegistrationNotFound)

	mock.ExpectQuery(q("FROM registration_phase_stats")).WithArgs(3, "finals").WillReturnError(sql.ErrNoRows)
	stats, err := repo.GetPhaseStats(ctx, 3, "finals")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStats{RegistrationID: 3, Phase: "finals"}, *stats)
}

func TestMatchRepository_Conditional(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresMatchRepository(db)
	ctx := context.Background()

	pos := 1
	prev := models.AppliedResult{}
	next := models.AppliedResult{Applied: true, Position: &pos, Points: 15, Kills: 5, ChickenDinner: true}

	mock.ExpectExec(q("UPDATE match_participants SET")).
		WithArgs(true, 1, 15, 5, true, 9, 101, false, nil, 0, 0, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkApplied(ctx, 9, 101, prev, next))

	mock.ExpectExec(q("UPDATE match_participants SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.MarkApplied(ctx, 9, 101, prev, next), ErrMatchStale)

	m := &models.Match{ID: 9, Status: models.MatchCompleted}
	mock.ExpectExec(q("UPDATE matches SET status = $1, finalized_by = $2")).
		WithArgs(models.MatchCompleted, nil, nil, 9, models.MatchInProgress).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, m, models.MatchInProgress), ErrMatchStale)
}

func TestMatchRepository_CountCompleted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresMatchRepository(db)

	mock.ExpectQuery(q("GROUP BY group_name")).
		WithArgs(5, "qualifiers", models.MatchCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"group_name", "count"}).AddRow("A", 3).AddRow("B", 2).AddRow(nil, 1))

	total, perGroup, err := repo.CountCompleted(context.Background(), 5, "qualifiers")
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Equal(t, map[string]int{"A": 3, "B": 2}, perGroup)
}

func phaseStandingRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "tournament_id", "phase", "status", "statistics", "top_teams", "leaders", "groups",
		"qualified_teams", "eliminated_teams", "trends", "fingerprint", "last_calculated", "calculated_by", "version", "created_at"}).
		AddRow(1, 5, "qualifiers", "in_progress",
			[]byte(`{"total_teams":2,"total_matches":1}`),
			[]byte(`[{"team_id":101,"rank":1,"points":15}]`),
			[]byte(`{}`), []byte(`null`),
			"{101}", "{}", []byte(`[]`), "abc123", fixedTime, "automatic", 4, fixedTime)
}

func TestPhaseStandingRepository_GetOrCreate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPhaseStandingRepository(db)

	mock.ExpectExec(q("ON CONFLICT (tournament_id, phase) DO NOTHING")).
		WithArgs(5, "qualifiers", models.PhaseInProgress).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM phase_standings WHERE tournament_id = $1 AND phase = $2")).
		WithArgs(5, "qualifiers").
		WillReturnRows(phaseStandingRow())

	ps, err := repo.GetOrCreate(context.Background(), 5, "qualifiers", models.PhaseInProgress)
	require.NoError(t, err)
	assert.Equal(t, 2, ps.Statistics.TotalTeams)
	require.Len(t, ps.TopTeams, 1)
	assert.Equal(t, 15, ps.TopTeams[0].Points)
	assert.Equal(t, []int{101}, ps.QualifiedTeams)
	assert.Equal(t, []int{}, ps.EliminatedTeams)
	assert.Equal(t, models.CalculatedBy("automatic"), ps.CalculatedBy)
	assert.Equal(t, "abc123", ps.Fingerprint)
}

func TestPhaseStandingRepository_SaveIsConditional(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPhaseStandingRepository(db)
	ps := &models.PhaseStanding{ID: 1, TournamentID: 5, Phase: "qualifiers", Version: 4}

	mock.ExpectQuery(q("WHERE id = $12 AND version = $13")).WillReturnError(sql.ErrNoRows)
	assert.ErrorIs(t, repo.Save(context.Background(), ps), ErrPhaseStandingStale)

	mock.ExpectQuery(q("WHERE id = $12 AND version = $13")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(5))
	require.NoError(t, repo.Save(context.Background(), ps))
	assert.Equal(t, 5, ps.Version)
}

func TestPhaseStandingRepository_ListStale(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPhaseStandingRepository(db)

	mock.ExpectQuery(q("WHERE status = $1 AND (last_calculated IS NULL OR last_calculated < $2)")).
		WithArgs(models.PhaseInProgress, fixedTime).
		WillReturnRows(phaseStandingRow())

	stale, err := repo.ListStale(context.Background(), fixedTime)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "qualifiers", stale[0].Phase)
}

func TestStandingRepository_ListByPhase(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresStandingRepository(db)

	group := "A"
	mock.ExpectQuery(q("AND pt.group_name = $4")).
		WithArgs(5, "qualifiers", sqlmock.AnyArg(), "A").
		WillReturnRows(sqlmock.NewRows([]string{"tournament_id", "phase", "group_name", "team_id", "team_name", "id",
			"points", "kills", "chicken_dinners", "matches_played", "position_sum", "status", "created_at"}).
			AddRow(5, "qualifiers", "A", 101, "Team 101", 3, 15, 5, 1, 1, 1, "qualified", fixedTime).
			AddRow(5, "qualifiers", "A", 102, "Team 102", 4, 9, 3, 0, 1, 2, "eliminated", fixedTime))

	rows, err := repo.ListByPhase(context.Background(), 5, "qualifiers", &group)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].IsQualified)
	assert.True(t, rows[1].IsEliminated)
	assert.Equal(t, 3, rows[0].RegistrationID)
}

func TestPostgresStore_WithinTx(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE tournaments SET status = $1")).
		WithArgs(models.TournamentInProgress, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	err := store.WithinTx(ctx, func(ctx context.Context, tx Repositories) error {
		return tx.Tournaments().UpdateStatus(ctx, 5, models.TournamentInProgress)
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = store.WithinTx(ctx, func(ctx context.Context, tx Repositories) error { return boom })
	assert.ErrorIs(t, err, boom)
}
