package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/lib/pq"
)

type postgresPhaseStandingRepository struct {
	exec SQLExecutor
}

func NewPostgresPhaseStandingRepository(exec SQLExecutor) PhaseStandingRepository {
	return &postgresPhaseStandingRepository{exec: exec}
}

const phaseStandingColumns = `
	id, tournament_id, phase, status, statistics, top_teams, leaders, groups,
	qualified_teams, eliminated_teams, trends, fingerprint, last_calculated, calculated_by,
	version, created_at`

func (r *postgresPhaseStandingRepository) scanPhaseStanding(row rowScanner) (*models.PhaseStanding, error) {
	var ps models.PhaseStanding
	var statistics, topTeams, leaders, groups, trends []byte
	var qualified, eliminated []int64
	var calculatedBy sql.NullString

	err := row.Scan(
		&ps.ID, &ps.TournamentID, &ps.Phase, &ps.Status, &statistics, &topTeams, &leaders, &groups,
		pq.Array(&qualified), pq.Array(&eliminated), &trends, &ps.Fingerprint, &ps.LastCalculated, &calculatedBy,
		&ps.Version, &ps.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	documents := []struct {
		raw  []byte
		dest interface{}
	}{
		{statistics, &ps.Statistics},
		{topTeams, &ps.TopTeams},
		{leaders, &ps.Leaders},
		{groups, &ps.Groups},
		{trends, &ps.Trends},
	}
	for _, doc := range documents {
		if len(doc.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(doc.raw, doc.dest); err != nil {
			return nil, fmt.Errorf("failed to decode phase standing document: %w", err)
		}
	}

	ps.QualifiedTeams = toInts(qualified)
	ps.EliminatedTeams = toInts(eliminated)
	ps.CalculatedBy = models.CalculatedBy(calculatedBy.String)
	return &ps, nil
}

func (r *postgresPhaseStandingRepository) GetOrCreate(ctx context.Context, tournamentID int, phase string, status models.PhaseStatus) (*models.PhaseStanding, error) {
	insert := `
		INSERT INTO phase_standings (tournament_id, phase, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (tournament_id, phase) DO NOTHING`
	if _, err := r.exec.ExecContext(ctx, insert, tournamentID, phase, status); err != nil {
		if code, _, ok := pqConstraint(err); ok && code == pqForeignKeyViolation {
			return nil, ErrPhaseNotFound
		}
		return nil, fmt.Errorf("failed to create phase standing: %w", err)
	}
	return r.Get(ctx, tournamentID, phase)
}

func (r *postgresPhaseStandingRepository) Get(ctx context.Context, tournamentID int, phase string) (*models.PhaseStanding, error) {
	query := `SELECT` + phaseStandingColumns + ` FROM phase_standings WHERE tournament_id = $1 AND phase = $2`
	ps, err := r.scanPhaseStanding(r.exec.QueryRowContext(ctx, query, tournamentID, phase))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPhaseStandingNotFound
		}
		return nil, fmt.Errorf("failed to get phase standing: %w", err)
	}
	return ps, nil
}

func (r *postgresPhaseStandingRepository) Save(ctx context.Context, ps *models.PhaseStanding) error {
	statistics, err := json.Marshal(ps.Statistics)
	if err != nil {
		return fmt.Errorf("failed to encode statistics: %w", err)
	}
	topTeams, err := json.Marshal(ps.TopTeams)
	if err != nil {
		return fmt.Errorf("failed to encode top teams: %w", err)
	}
	leaders, err := json.Marshal(ps.Leaders)
	if err != nil {
		return fmt.Errorf("failed to encode leaders: %w", err)
	}
	groups, err := json.Marshal(ps.Groups)
	if err != nil {
		return fmt.Errorf("failed to encode groups: %w", err)
	}
	trends, err := json.Marshal(ps.Trends)
	if err != nil {
		return fmt.Errorf("failed to encode trends: %w", err)
	}

	query := `
		UPDATE phase_standings SET
			status = $1, statistics = $2, top_teams = $3, leaders = $4, groups = $5,
			qualified_teams = $6, eliminated_teams = $7, trends = $8, fingerprint = $9,
			last_calculated = $10, calculated_by = $11, version = version + 1
		WHERE id = $12 AND version = $13
		RETURNING version`

	err = r.exec.QueryRowContext(ctx, query,
		ps.Status, statistics, topTeams, leaders, groups,
		pq.Array(toInt64s(ps.QualifiedTeams)), pq.Array(toInt64s(ps.EliminatedTeams)), trends, ps.Fingerprint,
		ps.LastCalculated, ps.CalculatedBy, ps.ID, ps.Version,
	).Scan(&ps.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPhaseStandingStale
		}
		return fmt.Errorf("failed to save phase standing %d: %w", ps.ID, err)
	}
	return nil
}

func (r *postgresPhaseStandingRepository) UpdateStatus(ctx context.Context, tournamentID int, phase string, status models.PhaseStatus) error {
	query := `
		UPDATE phase_standings SET status = $1, version = version + 1
		WHERE tournament_id = $2 AND phase = $3`
	result, err := r.exec.ExecContext(ctx, query, status, tournamentID, phase)
	if err != nil {
		return fmt.Errorf("failed to update phase standing status: %w", err)
	}
	return checkAffectedRows(result, ErrPhaseStandingNotFound)
}

func (r *postgresPhaseStandingRepository) ListStale(ctx context.Context, olderThan time.Time) ([]*models.PhaseStanding, error) {
	query := `SELECT` + phaseStandingColumns + `
		FROM phase_standings
		WHERE status = $1 AND (last_calculated IS NULL OR last_calculated < $2)
		ORDER BY last_calculated ASC NULLS FIRST, id ASC`

	rows, err := r.exec.QueryContext(ctx, query, models.PhaseInProgress, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale phase standings: %w", err)
	}
	defer rows.Close()

	result := make([]*models.PhaseStanding, 0)
	for rows.Next() {
		ps, err := r.scanPhaseStanding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase standing row: %w", err)
		}
		result = append(result, ps)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func toInts(values []int64) []int {
	result := make([]int, len(values))
	for i, v := range values {
		result[i] = int(v)
	}
	return result
}

func toInt64s(values []int) []int64 {
	result := make([]int64, len(values))
	for i, v := range values {
		result[i] = int64(v)
	}
	return result
}
