package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/lib/pq"
)

type postgresMatchRepository struct {
	exec SQLExecutor
}

func NewPostgresMatchRepository(exec SQLExecutor) MatchRepository {
	return &postgresMatchRepository{exec: exec}
}

const matchColumns = `
	id, tournament_id, phase, group_name, number, status, scheduled_at,
	results_updated_by, results_updated_at, finalized_by, finalized_at, created_at`

func (r *postgresMatchRepository) Create(ctx context.Context, m *models.Match) error {
	query := `
		INSERT INTO matches (tournament_id, phase, group_name, number, status, scheduled_at)
		VALUES ($1, $2, $3,
			CASE WHEN $4::int > 0 THEN $4::int ELSE
				COALESCE((SELECT MAX(number) FROM matches WHERE tournament_id = $1 AND phase = $2), 0) + 1
			END,
			$5, $6)
		RETURNING id, number, created_at`

	err := r.exec.QueryRowContext(ctx, query, m.TournamentID, m.Phase, m.Group, m.Number, m.Status, m.ScheduledAt).
		Scan(&m.ID, &m.Number, &m.CreatedAt)
	if err != nil {
		if code, _, ok := pqConstraint(err); ok && code == pqForeignKeyViolation {
			return ErrPhaseNotFound
		}
		return fmt.Errorf("failed to create match: %w", err)
	}

	participantQuery := `INSERT INTO match_participants (match_id, team_id) VALUES ($1, $2)`
	for _, p := range m.Participants {
		if _, err := r.exec.ExecContext(ctx, participantQuery, m.ID, p.TeamID); err != nil {
			return fmt.Errorf("failed to add team %d to match %d: %w", p.TeamID, m.ID, err)
		}
	}
	return nil
}

func (r *postgresMatchRepository) scanMatch(row rowScanner) (*models.Match, error) {
	var m models.Match
	err := row.Scan(
		&m.ID, &m.TournamentID, &m.Phase, &m.Group, &m.Number, &m.Status, &m.ScheduledAt,
		&m.ResultsUpdatedBy, &m.ResultsUpdatedAt, &m.FinalizedBy, &m.FinalizedAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, id int) (*models.Match, error) {
	query := `SELECT` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := r.scanMatch(r.exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to get match %d: %w", id, err)
	}

	participants, err := r.listParticipants(ctx, []int{id})
	if err != nil {
		return nil, err
	}
	m.Participants = participants[id]
	return m, nil
}

func (r *postgresMatchRepository) ListByPhase(ctx context.Context, tournamentID int, phase string) ([]*models.Match, error) {
	query := `SELECT` + matchColumns + ` FROM matches WHERE tournament_id = $1 AND phase = $2 ORDER BY number ASC, id ASC`
	rows, err := r.exec.QueryContext(ctx, query, tournamentID, phase)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches of phase %q: %w", phase, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	ids := make([]int, 0)
	for rows.Next() {
		m, err := r.scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		matches = append(matches, m)
		ids = append(ids, m.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return matches, nil
	}

	participants, err := r.listParticipants(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		m.Participants = participants[m.ID]
	}
	return matches, nil
}

func (r *postgresMatchRepository) listParticipants(ctx context.Context, matchIDs []int) (map[int][]models.MatchParticipant, error) {
	query := `
		SELECT match_id, team_id, position, kills, points, chicken_dinner,
		       applied, applied_position, applied_points, applied_kills, applied_chicken_dinner
		FROM match_participants
		WHERE match_id = ANY($1)
		ORDER BY match_id ASC, team_id ASC`

	ids := make([]int64, len(matchIDs))
	for i, id := range matchIDs {
		ids[i] = int64(id)
	}

	rows, err := r.exec.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list match participants: %w", err)
	}
	defer rows.Close()

	result := make(map[int][]models.MatchParticipant, len(matchIDs))
	for rows.Next() {
		var matchID int
		var p models.MatchParticipant
		if err := rows.Scan(
			&matchID, &p.TeamID, &p.Position, &p.Kills, &p.Points, &p.ChickenDinner,
			&p.Applied.Applied, &p.Applied.Position, &p.Applied.Points, &p.Applied.Kills, &p.Applied.ChickenDinner,
		); err != nil {
			return nil, fmt.Errorf("failed to scan match participant row: %w", err)
		}
		result[matchID] = append(result[matchID], p)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *postgresMatchRepository) SaveResults(ctx context.Context, m *models.Match) error {
	query := `
		UPDATE matches SET status = $1, results_updated_by = $2, results_updated_at = $3
		WHERE id = $4 AND status IN ('scheduled', 'in_progress')`
	result, err := r.exec.ExecContext(ctx, query, m.Status, m.ResultsUpdatedBy, m.ResultsUpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("failed to save results of match %d: %w", m.ID, err)
	}
	if err := checkAffectedRows(result, ErrMatchStale); err != nil {
		return err
	}

	participantQuery := `
		UPDATE match_participants SET position = $1, kills = $2, points = $3, chicken_dinner = $4
		WHERE match_id = $5 AND team_id = $6`
	for _, p := range m.Participants {
		result, err := r.exec.ExecContext(ctx, participantQuery, p.Position, p.Kills, p.Points, p.ChickenDinner, m.ID, p.TeamID)
		if err != nil {
			return fmt.Errorf("failed to save result of team %d: %w", p.TeamID, err)
		}
		if err := checkAffectedRows(result, ErrMatchStale); err != nil {
			return err
		}
	}
	return nil
}

func (r *postgresMatchRepository) MarkApplied(ctx context.Context, matchID, teamID int, prev, next models.AppliedResult) error {
	query := `
		UPDATE match_participants SET
			applied = $1, applied_position = $2, applied_points = $3, applied_kills = $4, applied_chicken_dinner = $5
		WHERE match_id = $6 AND team_id = $7
		  AND applied = $8 AND applied_position IS NOT DISTINCT FROM $9
		  AND applied_points = $10 AND applied_kills = $11 AND applied_chicken_dinner = $12`

	result, err := r.exec.ExecContext(ctx, query,
		next.Applied, next.Position, next.Points, next.Kills, next.ChickenDinner,
		matchID, teamID,
		prev.Applied, prev.Position, prev.Points, prev.Kills, prev.ChickenDinner,
	)
	if err != nil {
		return fmt.Errorf("failed to mark result of team %d applied: %w", teamID, err)
	}
	return checkAffectedRows(result, ErrMatchStale)
}

func (r *postgresMatchRepository) UpdateStatus(ctx context.Context, m *models.Match, from models.MatchStatus) error {
	query := `
		UPDATE matches SET status = $1, finalized_by = $2, finalized_at = $3
		WHERE id = $4 AND status = $5`
	result, err := r.exec.ExecContext(ctx, query, m.Status, m.FinalizedBy, m.FinalizedAt, m.ID, from)
	if err != nil {
		return fmt.Errorf("failed to update status of match %d: %w", m.ID, err)
	}
	return checkAffectedRows(result, ErrMatchStale)
}

func (r *postgresMatchRepository) CountCompleted(ctx context.Context, tournamentID int, phase string) (int, map[string]int, error) {
	query := `
		SELECT group_name, COUNT(*)
		FROM matches
		WHERE tournament_id = $1 AND phase = $2 AND status = $3
		GROUP BY group_name`

	rows, err := r.exec.QueryContext(ctx, query, tournamentID, phase, models.MatchCompleted)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to count completed matches: %w", err)
	}
	defer rows.Close()

	total := 0
	perGroup := make(map[string]int)
	for rows.Next() {
		var group sql.NullString
		var count int
		if err := rows.Scan(&group, &count); err != nil {
			return 0, nil, err
		}
		total += count
		if group.Valid {
			perGroup[group.String] = count
		}
	}
	if err = rows.Err(); err != nil {
		return 0, nil, err
	}
	return total, perGroup, nil
}
