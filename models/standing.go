package models

import (
	"cmp"
	"time"
)

// Standing is a team's ranking record within one phase. It is derived from the phase
// team set and the registration's per-phase aggregates and is never edited directly.
type Standing struct {
	TournamentID   int       `json:"tournament_id" db:"tournament_id"`
	Phase          string    `json:"phase" db:"phase"`
	Group          *string   `json:"group,omitempty" db:"group_name"`
	TeamID         int       `json:"team_id" db:"team_id"`
	TeamName       string    `json:"team_name" db:"team_name"`
	RegistrationID int       `json:"registration_id" db:"registration_id"`
	Points         int       `json:"points" db:"points"`
	Kills          int       `json:"kills" db:"kills"`
	ChickenDinners int       `json:"chicken_dinners" db:"chicken_dinners"`
	MatchesPlayed  int       `json:"matches_played" db:"matches_played"`
	PositionSum    int       `json:"-" db:"position_sum"`
	IsQualified    bool      `json:"is_qualified" db:"-"`
	IsEliminated   bool      `json:"is_eliminated" db:"-"`
	RegisteredAt   time.Time `json:"registered_at" db:"registered_at"`
	Rank           int       `json:"rank" db:"-"`
}

// AveragePosition is the mean placement; 0 when the team has not played yet.
func (s *Standing) AveragePosition() float64 {
	if s.MatchesPlayed == 0 {
		return 0
	}
	return float64(s.PositionSum) / float64(s.MatchesPlayed)
}

func (s *Standing) Clone() *Standing {
	cp := *s
	if s.Group != nil {
		group := *s.Group
		cp.Group = &group
	}
	return &cp
}

func (s *Standing) InGroup(group string) bool {
	return s.Group != nil && *s.Group == group
}

// CompareStandings orders standings for a leaderboard: points desc, kills desc, earlier
// registration first, then registration id. It never reports two distinct registrations equal.
func CompareStandings(a, b *Standing) int {
	if c := cmp.Compare(b.Points, a.Points); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Kills, a.Kills); c != 0 {
		return c
	}
	if c := a.RegisteredAt.Compare(b.RegisteredAt); c != 0 {
		return c
	}
	return cmp.Compare(a.RegistrationID, b.RegistrationID)
}
