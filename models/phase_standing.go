package models

import (
	"slices"
	"time"
)

type CalculatedBy string

const (
	CalculatedAutomatic CalculatedBy = "automatic"
	CalculatedManual    CalculatedBy = "manual"
)

const DefaultStalenessThreshold = 5 * time.Minute

type PhaseStatistics struct {
	TotalTeams           int     `json:"total_teams"`
	TotalMatches         int     `json:"total_matches"`
	TotalPoints          int     `json:"total_points"`
	TotalKills           int     `json:"total_kills"`
	TotalChickenDinners  int     `json:"total_chicken_dinners"`
	AveragePoints        float64 `json:"average_points"`
	AverageKills         float64 `json:"average_kills"`
	AverageMatchesPlayed float64 `json:"average_matches_played"`
}

type LeaderEntry struct {
	TeamID   int     `json:"team_id"`
	TeamName string  `json:"team_name"`
	Value    float64 `json:"value"`
}

type PhaseLeaders struct {
	MostPoints          *LeaderEntry `json:"most_points,omitempty"`
	MostKills           *LeaderEntry `json:"most_kills,omitempty"`
	MostChickenDinners  *LeaderEntry `json:"most_chicken_dinners,omitempty"`
	BestAveragePosition *LeaderEntry `json:"best_average_position,omitempty"`
}

type GroupSummary struct {
	Name          string    `json:"name"`
	TeamCount     int       `json:"team_count"`
	MatchesPlayed int       `json:"matches_played"`
	Leader        *Standing `json:"leader,omitempty"`
}

// TrendDelta compares a team's position with the previous distinct ranking.
type TrendDelta struct {
	TeamID       int `json:"team_id"`
	PreviousRank int `json:"previous_rank"` // 0 = was not ranked before
	CurrentRank  int `json:"current_rank"`
	RankChange   int `json:"rank_change"` // positive = moved up
	PointsChange int `json:"points_change"`
}

// PhaseStanding is the materialized snapshot of one phase of a tournament.
type PhaseStanding struct {
	ID              int             `json:"id" db:"id"`
	TournamentID    int             `json:"tournament_id" db:"tournament_id"`
	Phase           string          `json:"phase" db:"phase"`
	Status          PhaseStatus     `json:"status" db:"status"`
	Statistics      PhaseStatistics `json:"statistics" db:"-"`
	TopTeams        []Standing      `json:"top_teams" db:"-"`
	Leaders         PhaseLeaders    `json:"leaders" db:"-"`
	Groups          []GroupSummary  `json:"groups,omitempty" db:"-"`
	QualifiedTeams  []int           `json:"qualified_teams" db:"-"`
	EliminatedTeams []int           `json:"eliminated_teams" db:"-"`
	Trends          []TrendDelta    `json:"trends,omitempty" db:"-"`
	Fingerprint     string          `json:"-" db:"fingerprint"`
	LastCalculated  *time.Time      `json:"last_calculated,omitempty" db:"last_calculated"`
	CalculatedBy    CalculatedBy    `json:"calculated_by,omitempty" db:"calculated_by"`
	Version         int             `json:"version" db:"version"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// IsStale reports whether the snapshot is older than threshold at now.
// A snapshot that was never calculated is always stale.
func (ps *PhaseStanding) IsStale(now time.Time, threshold time.Duration) bool {
	if ps.LastCalculated == nil {
		return true
	}
	return now.Sub(*ps.LastCalculated) > threshold
}

// Clone returns a deep copy; the snapshot shares no slices or pointers with ps.
func (ps *PhaseStanding) Clone() *PhaseStanding {
	if ps == nil {
		return nil
	}
	cp := *ps
	cp.TopTeams = make([]Standing, len(ps.TopTeams))
	for i := range ps.TopTeams {
		cp.TopTeams[i] = *ps.TopTeams[i].Clone()
	}
	if ps.TopTeams == nil {
		cp.TopTeams = nil
	}
	cp.Leaders = PhaseLeaders{
		MostPoints:          cloneLeader(ps.Leaders.MostPoints),
		MostKills:           cloneLeader(ps.Leaders.MostKills),
		MostChickenDinners:  cloneLeader(ps.Leaders.MostChickenDinners),
		BestAveragePosition: cloneLeader(ps.Leaders.BestAveragePosition),
	}
	cp.Groups = slices.Clone(ps.Groups)
	for i := range cp.Groups {
		if cp.Groups[i].Leader != nil {
			cp.Groups[i].Leader = cp.Groups[i].Leader.Clone()
		}
	}
	cp.QualifiedTeams = slices.Clone(ps.QualifiedTeams)
	cp.EliminatedTeams = slices.Clone(ps.EliminatedTeams)
	cp.Trends = slices.Clone(ps.Trends)
	if ps.LastCalculated != nil {
		at := *ps.LastCalculated
		cp.LastCalculated = &at
	}
	return &cp
}

func cloneLeader(l *LeaderEntry) *LeaderEntry {
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}
