package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/tournament-standings/models"
)

type postgresPhaseTeamRepository struct {
	exec SQLExecutor
}

func NewPostgresPhaseTeamRepository(exec SQLExecutor) PhaseTeamRepository {
	return &postgresPhaseTeamRepository{exec: exec}
}

func (r *postgresPhaseTeamRepository) Add(ctx context.Context, pt *models.PhaseTeam) (bool, error) {
	if pt.Status == "" {
		pt.Status = models.MembershipActive
	}
	if pt.AddedAt.IsZero() {
		pt.AddedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO phase_teams (tournament_id, phase, team_id, group_name, status, added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tournament_id, phase, team_id) DO NOTHING`

	result, err := r.exec.ExecContext(ctx, query, pt.TournamentID, pt.Phase, pt.TeamID, pt.Group, pt.Status, pt.AddedAt)
	if err != nil {
		if code, _, ok := pqConstraint(err); ok && code == pqForeignKeyViolation {
			return false, ErrPhaseNotFound
		}
		return false, fmt.Errorf("failed to add team %d to phase %q: %w", pt.TeamID, pt.Phase, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return affected > 0, nil
}

func (r *postgresPhaseTeamRepository) scanPhaseTeam(row rowScanner) (*models.PhaseTeam, error) {
	var pt models.PhaseTeam
	if err := row.Scan(&pt.TournamentID, &pt.Phase, &pt.TeamID, &pt.Group, &pt.Status, &pt.AddedAt); err != nil {
		return nil, err
	}
	return &pt, nil
}

func (r *postgresPhaseTeamRepository) Get(ctx context.Context, tournamentID int, phase string, teamID int) (*models.PhaseTeam, error) {
	query := `
		SELECT tournament_id, phase, team_id, group_name, status, added_at
		FROM phase_teams
		WHERE tournament_id = $1 AND phase = $2 AND team_id = $3`

	pt, err := r.scanPhaseTeam(r.exec.QueryRowContext(ctx, query, tournamentID, phase, teamID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPhaseTeamNotFound
		}
		return nil, fmt.Errorf("failed to get phase team: %w", err)
	}
	return pt, nil
}

func (r *postgresPhaseTeamRepository) ListByPhase(ctx context.Context, tournamentID int, phase string) ([]models.PhaseTeam, error) {
	query := `
		SELECT tournament_id, phase, team_id, group_name, status, added_at
		FROM phase_teams
		WHERE tournament_id = $1 AND phase = $2
		ORDER BY team_id ASC`

	rows, err := r.exec.QueryContext(ctx, query, tournamentID, phase)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams of phase %q: %w", phase, err)
	}
	defer rows.Close()

	teams := make([]models.PhaseTeam, 0)
	for rows.Next() {
		pt, err := r.scanPhaseTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase team row: %w", err)
		}
		teams = append(teams, *pt)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return teams, nil
}

func (r *postgresPhaseTeamRepository) SetGroup(ctx context.Context, tournamentID int, phase string, teamID int, group *string) error {
	query := `UPDATE phase_teams SET group_name = $1 WHERE tournament_id = $2 AND phase = $3 AND team_id = $4`
	result, err := r.exec.ExecContext(ctx, query, group, tournamentID, phase, teamID)
	if err != nil {
		return fmt.Errorf("failed to set group of team %d: %w", teamID, err)
	}
	return checkAffectedRows(result, ErrPhaseTeamNotFound)
}

func (r *postgresPhaseTeamRepository) SetStatus(ctx context.Context, tournamentID int, phase string, teamID int, status models.MembershipStatus) error {
	query := `UPDATE phase_teams SET status = $1 WHERE tournament_id = $2 AND phase = $3 AND team_id = $4`
	result, err := r.exec.ExecContext(ctx, query, status, tournamentID, phase, teamID)
	if err != nil {
		return fmt.Errorf("failed to set membership status of team %d: %w", teamID, err)
	}
	return checkAffectedRows(result, ErrPhaseTeamNotFound)
}

func (r *postgresPhaseTeamRepository) Remove(ctx context.Context, tournamentID int, phase string, teamID int) error {
	query := `DELETE FROM phase_teams WHERE tournament_id = $1 AND phase = $2 AND team_id = $3`
	result, err := r.exec.ExecContext(ctx, query, tournamentID, phase, teamID)
	if err != nil {
		return fmt.Errorf("failed to remove team %d from phase %q: %w", teamID, phase, err)
	}
	return checkAffectedRows(result, ErrPhaseTeamNotFound)
}

func (r *postgresPhaseTeamRepository) Count(ctx context.Context, tournamentID int, phase string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM phase_teams WHERE tournament_id = $1 AND phase = $2`
	if err := r.exec.QueryRowContext(ctx, query, tournamentID, phase).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count teams of phase %q: %w", phase, err)
	}
	return count, nil
}
