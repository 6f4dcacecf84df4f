package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Dosada05/tournament-standings/models"
)

// SQLExecutor is satisfied by both *sql.DB and *sql.Tx.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	ErrTournamentNotFound     = errors.New("tournament not found")
	ErrTournamentNameConflict = errors.New("tournament name conflict for this organizer")
	ErrPhaseNotFound          = errors.New("tournament phase not found")
	ErrPhaseStatusConflict    = errors.New("phase status changed concurrently")

	ErrPhaseTeamNotFound = errors.New("team is not a member of the phase")

	ErrRegistrationNotFound = errors.New("registration not found")
	ErrRegistrationConflict = errors.New("team is already registered for this tournament")
	ErrRegistrationStale    = errors.New("registration was modified concurrently")

	ErrMatchNotFound = errors.New("match not found")
	ErrMatchStale    = errors.New("match was modified concurrently")

	ErrPhaseStandingNotFound = errors.New("phase standing not found")
	ErrPhaseStandingStale    = errors.New("phase standing was modified concurrently")
)

type ListTournamentsFilter struct {
	OrganizerID *int
	Status      *models.TournamentStatus
	Limit       int
	Offset      int
}

type TournamentRepository interface {
	// Create inserts the tournament together with its ordered phases.
	Create(ctx context.Context, t *models.Tournament) error
	GetByID(ctx context.Context, id int) (*models.Tournament, error)
	// LockForUpdate holds the tournament row until the transaction ends. Writers of the
	// participating count and of phase results take it first.
	LockForUpdate(ctx context.Context, id int) error
	List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error)
	UpdateStatus(ctx context.Context, id int, status models.TournamentStatus) error
	// UpdatePhaseStatus moves a phase from one status to another; ErrPhaseStatusConflict when
	// the phase is no longer in status from.
	UpdatePhaseStatus(ctx context.Context, id int, phase string, from, to models.PhaseStatus) error
	UpdatePhaseGroups(ctx context.Context, id int, phase string, groups []string) error
	IncrementRegisteredCount(ctx context.Context, id int, delta int) error
	// RecountParticipatingTeams recomputes participating_teams_count from the registrations
	// in the active set and returns the new value.
	RecountParticipatingTeams(ctx context.Context, id int) (int, error)
}

type PhaseTeamRepository interface {
	// Add inserts the team into the phase set. It reports false when the team was already a member.
	Add(ctx context.Context, pt *models.PhaseTeam) (bool, error)
	Get(ctx context.Context, tournamentID int, phase string, teamID int) (*models.PhaseTeam, error)
	ListByPhase(ctx context.Context, tournamentID int, phase string) ([]models.PhaseTeam, error)
	SetGroup(ctx context.Context, tournamentID int, phase string, teamID int, group *string) error
	SetStatus(ctx context.Context, tournamentID int, phase string, teamID int, status models.MembershipStatus) error
	// Remove drops the team from the phase set; ErrPhaseTeamNotFound when it was not a member.
	Remove(ctx context.Context, tournamentID int, phase string, teamID int) error
	Count(ctx context.Context, tournamentID int, phase string) (int, error)
}

type RegistrationRepository interface {
	Create(ctx context.Context, r *models.Registration) error
	GetByID(ctx context.Context, id int) (*models.Registration, error)
	GetByTournamentAndTeam(ctx context.Context, tournamentID, teamID int) (*models.Registration, error)
	ListByTournament(ctx context.Context, tournamentID int, statusFilter *models.RegistrationStatus) ([]*models.Registration, error)
	// UpdateStatus persists the status, audit fields and placement of r only if the stored row
	// still has status from and version r.Version. On success r.Version is incremented.
	UpdateStatus(ctx context.Context, r *models.Registration, from models.RegistrationStatus) error
	UpdateProgress(ctx context.Context, id int, phase, group *string, method models.QualificationMethod) error
	// ApplyStatsDelta adds d to the cumulative and per-phase aggregates in one statement set.
	ApplyStatsDelta(ctx context.Context, id int, phase string, d models.StatsDelta) error
	GetPhaseStats(ctx context.Context, id int, phase string) (*models.PhaseStats, error)
	SetFinalPosition(ctx context.Context, id int, position int) error
}

type MatchRepository interface {
	Create(ctx context.Context, m *models.Match) error
	GetByID(ctx context.Context, id int) (*models.Match, error)
	ListByPhase(ctx context.Context, tournamentID int, phase string) ([]*models.Match, error)
	// SaveResults overwrites the participant results and the result audit fields of m.
	SaveResults(ctx context.Context, m *models.Match) error
	// MarkApplied replaces the applied snapshot of one participant if it still equals prev;
	// ErrMatchStale otherwise.
	MarkApplied(ctx context.Context, matchID, teamID int, prev, next models.AppliedResult) error
	// UpdateStatus persists the status and finalization fields of m if the stored status is from.
	UpdateStatus(ctx context.Context, m *models.Match, from models.MatchStatus) error
	// CountCompleted returns the completed match count of a phase, total and per group.
	CountCompleted(ctx context.Context, tournamentID int, phase string) (int, map[string]int, error)
}

type StandingRepository interface {
	// ListByPhase returns one row per active team in the phase; a non-nil group narrows the set.
	ListByPhase(ctx context.Context, tournamentID int, phase string, group *string) ([]*models.Standing, error)
}

type PhaseStandingRepository interface {
	// GetOrCreate inserts an empty snapshot if none exists and returns the stored document.
	GetOrCreate(ctx context.Context, tournamentID int, phase string, status models.PhaseStatus) (*models.PhaseStanding, error)
	Get(ctx context.Context, tournamentID int, phase string) (*models.PhaseStanding, error)
	// Save replaces the snapshot if its version still matches ps.Version and bumps the version.
	Save(ctx context.Context, ps *models.PhaseStanding) error
	UpdateStatus(ctx context.Context, tournamentID int, phase string, status models.PhaseStatus) error
	// ListStale returns in_progress snapshots calculated before olderThan or never calculated.
	ListStale(ctx context.Context, olderThan time.Time) ([]*models.PhaseStanding, error)
}

// Repositories groups the collections of the engine behind one executor.
type Repositories interface {
	Tournaments() TournamentRepository
	PhaseTeams() PhaseTeamRepository
	Registrations() RegistrationRepository
	Matches() MatchRepository
	Standings() StandingRepository
	PhaseStandings() PhaseStandingRepository
}

// Store is the data-store abstraction consumed by the services.
type Store interface {
	Repositories
	// WithinTx runs fn with repositories bound to a single transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}
