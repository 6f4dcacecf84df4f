package repositories

import (
	"context"
	"fmt"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/lib/pq"
)

type postgresStandingRepository struct {
	exec SQLExecutor
}

func NewPostgresStandingRepository(exec SQLExecutor) StandingRepository {
	return &postgresStandingRepository{exec: exec}
}

// ListByPhase derives standings from the phase team set joined with registrations in the
// active set and their per-phase aggregates. Rows come back in leaderboard order.
func (r *postgresStandingRepository) ListByPhase(ctx context.Context, tournamentID int, phase string, group *string) ([]*models.Standing, error) {
	query := `
		SELECT pt.tournament_id, pt.phase, pt.group_name, pt.team_id, r.team_name, r.id,
		       COALESCE(s.points, 0), COALESCE(s.kills, 0), COALESCE(s.chicken_dinners, 0),
		       COALESCE(s.matches_played, 0), COALESCE(s.position_sum, 0),
		       pt.status, r.created_at
		FROM phase_teams pt
		JOIN registrations r ON r.tournament_id = pt.tournament_id AND r.team_id = pt.team_id
		LEFT JOIN registration_phase_stats s ON s.registration_id = r.id AND s.phase = pt.phase
		WHERE pt.tournament_id = $1 AND pt.phase = $2 AND r.status = ANY($3)`

	statuses := make([]string, len(models.ActiveRegistrationStatuses))
	for i, s := range models.ActiveRegistrationStatuses {
		statuses[i] = string(s)
	}
	args := []interface{}{tournamentID, phase, pq.Array(statuses)}

	if group != nil {
		query += " AND pt.group_name = $4"
		args = append(args, *group)
	}
	query += `
		ORDER BY COALESCE(s.points, 0) DESC, COALESCE(s.kills, 0) DESC, r.created_at ASC, r.id ASC`

	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list standings of phase %q: %w", phase, err)
	}
	defer rows.Close()

	standings := make([]*models.Standing, 0)
	for rows.Next() {
		var st models.Standing
		var membership models.MembershipStatus
		if err := rows.Scan(
			&st.TournamentID, &st.Phase, &st.Group, &st.TeamID, &st.TeamName, &st.RegistrationID,
			&st.Points, &st.Kills, &st.ChickenDinners, &st.MatchesPlayed, &st.PositionSum,
			&membership, &st.RegisteredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan standing row: %w", err)
		}
		st.IsQualified = membership == models.MembershipQualified
		st.IsEliminated = membership == models.MembershipEliminated
		standings = append(standings, &st)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating standing rows: %w", err)
	}
	return standings, nil
}
