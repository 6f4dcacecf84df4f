package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/repositories"
)

type LeaderboardQuery struct {
	TournamentID int
	Phase        string
	Group        *string
	Limit        int // <= 0 means all
}

// StandingService ranks the teams of a phase from their registration aggregates.
type StandingService struct {
	store repositories.Store
}

func NewStandingService(store repositories.Store) *StandingService {
	return &StandingService{store: store}
}

func (s *StandingService) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]models.Standing, error) {
	t, err := s.store.Tournaments().GetByID(ctx, q.TournamentID)
	if err != nil {
		return nil, translateStoreError(err, "get tournament")
	}
	phase := t.Phase(q.Phase)
	if phase == nil {
		return nil, notFound("phase", q.Phase)
	}
	if q.Group != nil && !slices.Contains(phase.Groups, *q.Group) {
		return nil, invalid("group", fmt.Sprintf("phase %q has no group %q", phase.Name, *q.Group))
	}

	rows, err := rankedStandings(ctx, s.store, q.TournamentID, q.Phase, q.Group)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 && q.Limit < len(rows) {
		rows = rows[:q.Limit]
	}

	result := make([]models.Standing, len(rows))
	for i, st := range rows {
		result[i] = *st
	}
	return result, nil
}

// rankedStandings returns the phase standings in leaderboard order with 1-based ranks.
// Ranks of a group-scoped query are positions inside the group.
func rankedStandings(ctx context.Context, repos repositories.Repositories, tournamentID int, phase string, group *string) ([]*models.Standing, error) {
	rows, err := repos.Standings().ListByPhase(ctx, tournamentID, phase, group)
	if err != nil {
		return nil, translateStoreError(err, "list standings")
	}
	slices.SortStableFunc(rows, models.CompareStandings)
	for i, st := range rows {
		st.Rank = i + 1
	}
	return rows, nil
}
