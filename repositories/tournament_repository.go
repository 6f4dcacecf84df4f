package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/lib/pq"
)

type postgresTournamentRepository struct {
	exec SQLExecutor
}

func NewPostgresTournamentRepository(exec SQLExecutor) TournamentRepository {
	return &postgresTournamentRepository{exec: exec}
}

func (r *postgresTournamentRepository) Create(ctx context.Context, t *models.Tournament) error {
	query := `
		INSERT INTO tournaments (name, organizer_id, status, total_slots)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, registered_teams_count, participating_teams_count`

	err := r.exec.QueryRowContext(ctx, query, t.Name, t.OrganizerID, t.Status, t.TotalSlots).
		Scan(&t.ID, &t.CreatedAt, &t.RegisteredTeamsCount, &t.ParticipatingTeamsCount)
	if err != nil {
		return r.handleTournamentError(err)
	}

	phaseQuery := `
		INSERT INTO tournament_phases
			(tournament_id, name, type, position, starts_at, ends_at, status, slots, groups,
			 qualification_slots, qualification_source, next_phase)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	for i := range t.Phases {
		p := &t.Phases[i]
		p.Position = i
		var qSlots sql.NullInt64
		var qSource, qNext sql.NullString
		if p.Qualification != nil {
			qSlots = sql.NullInt64{Int64: int64(p.Qualification.Slots), Valid: true}
			qSource = sql.NullString{String: string(p.Qualification.Source), Valid: true}
			qNext = sql.NullString{String: p.Qualification.NextPhase, Valid: true}
		}
		if _, err := r.exec.ExecContext(ctx, phaseQuery,
			t.ID, p.Name, p.Type, p.Position, p.StartsAt, p.EndsAt, p.Status, p.Slots, pq.Array(p.Groups),
			qSlots, qSource, qNext,
		); err != nil {
			return fmt.Errorf("failed to create phase %q for tournament %d: %w", p.Name, t.ID, err)
		}
	}
	return nil
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	query := `
		SELECT id, name, organizer_id, status, total_slots, registered_teams_count,
		       participating_teams_count, created_at
		FROM tournaments
		WHERE id = $1`

	t := &models.Tournament{}
	err := r.exec.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.OrganizerID, &t.Status, &t.TotalSlots, &t.RegisteredTeamsCount,
		&t.ParticipatingTeamsCount, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}

	phases, err := r.listPhases(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Phases = phases
	return t, nil
}

func (r *postgresTournamentRepository) LockForUpdate(ctx context.Context, id int) error {
	var locked int
	err := r.exec.QueryRowContext(ctx, `SELECT id FROM tournaments WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTournamentNotFound
		}
		return fmt.Errorf("failed to lock tournament %d: %w", id, err)
	}
	return nil
}

func (r *postgresTournamentRepository) listPhases(ctx context.Context, tournamentID int) ([]models.Phase, error) {
	query := `
		SELECT name, type, position, starts_at, ends_at, status, slots, groups,
		       qualification_slots, qualification_source, next_phase
		FROM tournament_phases
		WHERE tournament_id = $1
		ORDER BY position ASC`

	rows, err := r.exec.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phases for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	phases := make([]models.Phase, 0)
	for rows.Next() {
		var p models.Phase
		var groups []string
		var qSlots sql.NullInt64
		var qSource, qNext sql.NullString
		if err := rows.Scan(
			&p.Name, &p.Type, &p.Position, &p.StartsAt, &p.EndsAt, &p.Status, &p.Slots, pq.Array(&groups),
			&qSlots, &qSource, &qNext,
		); err != nil {
			return nil, fmt.Errorf("failed to scan phase row: %w", err)
		}
		p.Groups = groups
		if qSlots.Valid {
			p.Qualification = &models.QualificationRule{
				Slots:     int(qSlots.Int64),
				Source:    models.QualificationSource(qSource.String),
				NextPhase: qNext.String,
			}
		}
		phases = append(phases, p)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return phases, nil
}

func (r *postgresTournamentRepository) List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error) {
	query := `
		SELECT id, name, organizer_id, status, total_slots, registered_teams_count,
		       participating_teams_count, created_at
		FROM tournaments
		WHERE 1=1`

	args := []interface{}{}
	argID := 1

	if filter.OrganizerID != nil {
		query += fmt.Sprintf(" AND organizer_id = $%d", argID)
		args = append(args, *filter.OrganizerID)
		argID++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argID)
		args = append(args, filter.Offset)
	}

	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tournaments := make([]models.Tournament, 0)
	for rows.Next() {
		var t models.Tournament
		if scanErr := rows.Scan(
			&t.ID, &t.Name, &t.OrganizerID, &t.Status, &t.TotalSlots, &t.RegisteredTeamsCount,
			&t.ParticipatingTeamsCount, &t.CreatedAt,
		); scanErr != nil {
			return nil, scanErr
		}
		tournaments = append(tournaments, t)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return tournaments, nil
}

func (r *postgresTournamentRepository) UpdateStatus(ctx context.Context, id int, status models.TournamentStatus) error {
	query := `UPDATE tournaments SET status = $1 WHERE id = $2`
	result, err := r.exec.ExecContext(ctx, query, status, id)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) UpdatePhaseStatus(ctx context.Context, id int, phase string, from, to models.PhaseStatus) error {
	query := `UPDATE tournament_phases SET status = $1 WHERE tournament_id = $2 AND name = $3 AND status = $4`
	result, err := r.exec.ExecContext(ctx, query, to, id, phase, from)
	if err != nil {
		return fmt.Errorf("failed to update status of phase %q: %w", phase, err)
	}
	return checkAffectedRows(result, ErrPhaseStatusConflict)
}

func (r *postgresTournamentRepository) UpdatePhaseGroups(ctx context.Context, id int, phase string, groups []string) error {
	query := `UPDATE tournament_phases SET groups = $1 WHERE tournament_id = $2 AND name = $3`
	result, err := r.exec.ExecContext(ctx, query, pq.Array(groups), id, phase)
	if err != nil {
		return fmt.Errorf("failed to update groups of phase %q: %w", phase, err)
	}
	return checkAffectedRows(result, ErrPhaseNotFound)
}

func (r *postgresTournamentRepository) IncrementRegisteredCount(ctx context.Context, id int, delta int) error {
	query := `UPDATE tournaments SET registered_teams_count = registered_teams_count + $1 WHERE id = $2`
	result, err := r.exec.ExecContext(ctx, query, delta, id)
	if err != nil {
		return fmt.Errorf("failed to increment registered count: %w", err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) RecountParticipatingTeams(ctx context.Context, id int) (int, error) {
	query := `
		UPDATE tournaments SET participating_teams_count = (
			SELECT COUNT(*) FROM registrations
			WHERE tournament_id = $1 AND status = ANY($2)
		)
		WHERE id = $1
		RETURNING participating_teams_count`

	statuses := make([]string, len(models.ActiveRegistrationStatuses))
	for i, s := range models.ActiveRegistrationStatuses {
		statuses[i] = string(s)
	}

	var count int
	err := r.exec.QueryRowContext(ctx, query, id, pq.Array(statuses)).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrTournamentNotFound
		}
		return 0, fmt.Errorf("failed to recount participating teams: %w", err)
	}
	return count, nil
}

func (r *postgresTournamentRepository) handleTournamentError(err error) error {
	if err == nil {
		return nil
	}
	if code, constraint, ok := pqConstraint(err); ok {
		if code == pqUniqueViolation && constraint == "tournaments_organizer_id_name_key" {
			return ErrTournamentNameConflict
		}
	}
	return err
}
