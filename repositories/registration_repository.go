package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/lib/pq"
)

const registrationColumns = `
	id, tournament_id, team_id, team_name, status, qualification_method, current_phase, current_group,
	total_points, total_kills, chicken_dinners, matches_played, position_sum, final_position, roster,
	approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
	checked_in_by, checked_in_at, disqualified_by, disqualified_at, disqualification_reason,
	withdrawn_by, withdrawn_at, withdrawal_reason, version, created_at, updated_at`

type postgresRegistrationRepository struct {
	exec SQLExecutor
}

func NewPostgresRegistrationRepository(exec SQLExecutor) RegistrationRepository {
	return &postgresRegistrationRepository{exec: exec}
}

func (r *postgresRegistrationRepository) Create(ctx context.Context, reg *models.Registration) error {
	query := `
		INSERT INTO registrations (tournament_id, team_id, team_name, status, qualification_method, roster)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, version, created_at, updated_at`

	err := r.exec.QueryRowContext(ctx, query,
		reg.TournamentID,
		reg.TeamID,
		reg.TeamName,
		reg.Status,
		reg.QualificationMethod,
		pq.Array(reg.Roster),
	).Scan(&reg.ID, &reg.Version, &reg.CreatedAt, &reg.UpdatedAt)

	if err != nil {
		if code, constraint, ok := pqConstraint(err); ok {
			switch code {
			case pqUniqueViolation:
				if constraint == "registrations_tournament_id_team_id_key" {
					return ErrRegistrationConflict
				}
			case pqForeignKeyViolation:
				if constraint == "registrations_tournament_id_fkey" {
					return ErrTournamentNotFound
				}
			}
		}
		return fmt.Errorf("failed to create registration: %w", err)
	}
	return nil
}

func (r *postgresRegistrationRepository) scanRegistration(row rowScanner) (*models.Registration, error) {
	var reg models.Registration
	var roster []string
	err := row.Scan(
		&reg.ID, &reg.TournamentID, &reg.TeamID, &reg.TeamName, &reg.Status, &reg.QualificationMethod,
		&reg.CurrentPhase, &reg.CurrentGroup,
		&reg.TotalPoints, &reg.TotalKills, &reg.ChickenDinners, &reg.MatchesPlayed, &reg.PositionSum,
		&reg.FinalPosition, pq.Array(&roster),
		&reg.ApprovedBy, &reg.ApprovedAt, &reg.RejectedBy, &reg.RejectedAt, &reg.RejectionReason,
		&reg.CheckedInBy, &reg.CheckedInAt, &reg.DisqualifiedBy, &reg.DisqualifiedAt, &reg.DisqualificationReason,
		&reg.WithdrawnBy, &reg.WithdrawnAt, &reg.WithdrawalReason, &reg.Version, &reg.CreatedAt, &reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	reg.Roster = roster
	return &reg, nil
}

func (r *postgresRegistrationRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Registration, error) {
	reg, err := r.scanRegistration(r.exec.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to find registration: %w", err)
	}
	return reg, nil
}

func (r *postgresRegistrationRepository) GetByID(ctx context.Context, id int) (*models.Registration, error) {
	query := `SELECT` + registrationColumns + ` FROM registrations WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *postgresRegistrationRepository) GetByTournamentAndTeam(ctx context.Context, tournamentID, teamID int) (*models.Registration, error) {
	query := `SELECT` + registrationColumns + ` FROM registrations WHERE tournament_id = $1 AND team_id = $2`
	return r.findOne(ctx, query, tournamentID, teamID)
}

func (r *postgresRegistrationRepository) ListByTournament(ctx context.Context, tournamentID int, statusFilter *models.RegistrationStatus) ([]*models.Registration, error) {
	var queryBuilder strings.Builder
	args := []interface{}{tournamentID}

	queryBuilder.WriteString(`SELECT` + registrationColumns + ` FROM registrations WHERE tournament_id = $1`)
	if statusFilter != nil {
		queryBuilder.WriteString(" AND status = $2")
		args = append(args, *statusFilter)
	}
	queryBuilder.WriteString(" ORDER BY created_at ASC, id ASC")

	rows, err := r.exec.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations by tournament: %w", err)
	}
	defer rows.Close()

	registrations := make([]*models.Registration, 0)
	for rows.Next() {
		reg, err := r.scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration row: %w", err)
		}
		registrations = append(registrations, reg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registration rows: %w", err)
	}
	return registrations, nil
}

func (r *postgresRegistrationRepository) UpdateStatus(ctx context.Context, reg *models.Registration, from models.RegistrationStatus) error {
	query := `
		UPDATE registrations SET
			status = $1, qualification_method = $2, current_phase = $3, current_group = $4,
			approved_by = $5, approved_at = $6, rejected_by = $7, rejected_at = $8, rejection_reason = $9,
			checked_in_by = $10, checked_in_at = $11, disqualified_by = $12, disqualified_at = $13,
			disqualification_reason = $14, withdrawn_by = $15, withdrawn_at = $16, withdrawal_reason = $17,
			version = version + 1, updated_at = $18
		WHERE id = $19 AND status = $20 AND version = $21
		RETURNING version`

	now := time.Now().UTC()
	err := r.exec.QueryRowContext(ctx, query,
		reg.Status, reg.QualificationMethod, reg.CurrentPhase, reg.CurrentGroup,
		reg.ApprovedBy, reg.ApprovedAt, reg.RejectedBy, reg.RejectedAt, reg.RejectionReason,
		reg.CheckedInBy, reg.CheckedInAt, reg.DisqualifiedBy, reg.DisqualifiedAt,
		reg.DisqualificationReason, reg.WithdrawnBy, reg.WithdrawnAt, reg.WithdrawalReason,
		now, reg.ID, from, reg.Version,
	).Scan(&reg.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRegistrationStale
		}
		return fmt.Errorf("failed to update registration %d status: %w", reg.ID, err)
	}
	reg.UpdatedAt = now
	return nil
}

func (r *postgresRegistrationRepository) UpdateProgress(ctx context.Context, id int, phase, group *string, method models.QualificationMethod) error {
	query := `
		UPDATE registrations
		SET current_phase = $1, current_group = $2, qualification_method = $3, updated_at = NOW()
		WHERE id = $4`
	result, err := r.exec.ExecContext(ctx, query, phase, group, method, id)
	if err != nil {
		return fmt.Errorf("failed to update registration %d progress: %w", id, err)
	}
	return checkAffectedRows(result, ErrRegistrationNotFound)
}

// ApplyStatsDelta updates the cumulative columns and upserts the phase row in one statement,
// so the two aggregates can never diverge.
func (r *postgresRegistrationRepository) ApplyStatsDelta(ctx context.Context, id int, phase string, d models.StatsDelta) error {
	query := `
		WITH updated AS (
			UPDATE registrations SET
				total_points = total_points + $2,
				total_kills = total_kills + $3,
				chicken_dinners = chicken_dinners + $4,
				matches_played = matches_played + $5,
				position_sum = position_sum + $6,
				updated_at = NOW()
			WHERE id = $1
			RETURNING id
		)
		INSERT INTO registration_phase_stats
			(registration_id, phase, points, kills, chicken_dinners, matches_played, position_sum)
		SELECT id, $7, $2, $3, $4, $5, $6 FROM updated
		ON CONFLICT (registration_id, phase) DO UPDATE SET
			points = registration_phase_stats.points + EXCLUDED.points,
			kills = registration_phase_stats.kills + EXCLUDED.kills,
			chicken_dinners = registration_phase_stats.chicken_dinners + EXCLUDED.chicken_dinners,
			matches_played = registration_phase_stats.matches_played + EXCLUDED.matches_played,
			position_sum = registration_phase_stats.position_sum + EXCLUDED.position_sum`

	result, err := r.exec.ExecContext(ctx, query,
		id, d.Points, d.Kills, d.ChickenDinners, d.MatchesPlayed, d.PositionSum, phase,
	)
	if err != nil {
		return fmt.Errorf("failed to apply stats to registration %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrRegistrationNotFound)
}

func (r *postgresRegistrationRepository) GetPhaseStats(ctx context.Context, id int, phase string) (*models.PhaseStats, error) {
	query := `
		SELECT registration_id, phase, points, kills, chicken_dinners, matches_played, position_sum
		FROM registration_phase_stats
		WHERE registration_id = $1 AND phase = $2`

	var s models.PhaseStats
	err := r.exec.QueryRowContext(ctx, query, id, phase).Scan(
		&s.RegistrationID, &s.Phase, &s.Points, &s.Kills, &s.ChickenDinners, &s.MatchesPlayed, &s.PositionSum,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.PhaseStats{RegistrationID: id, Phase: phase}, nil
		}
		return nil, fmt.Errorf("failed to get phase stats: %w", err)
	}
	return &s, nil
}

func (r *postgresRegistrationRepository) SetFinalPosition(ctx context.Context, id int, position int) error {
	query := `UPDATE registrations SET final_position = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.exec.ExecContext(ctx, query, position, id)
	if err != nil {
		return fmt.Errorf("failed to set final position of registration %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrRegistrationNotFound)
}
