package models

import "time"

type MatchStatus string

const (
	MatchScheduled  MatchStatus = "scheduled"
	MatchInProgress MatchStatus = "in_progress"
	MatchCompleted  MatchStatus = "completed"
	MatchCanceled   MatchStatus = "canceled"
)

// AppliedResult is the part of a participant result already propagated to the registration.
type AppliedResult struct {
	Applied       bool `json:"applied" db:"applied"`
	Position      *int `json:"position,omitempty" db:"applied_position"`
	Points        int  `json:"points" db:"applied_points"`
	Kills         int  `json:"kills" db:"applied_kills"`
	ChickenDinner bool `json:"chicken_dinner" db:"applied_chicken_dinner"`
}

func (a AppliedResult) Equal(b AppliedResult) bool {
	if a.Applied != b.Applied || a.Points != b.Points || a.Kills != b.Kills || a.ChickenDinner != b.ChickenDinner {
		return false
	}
	if a.Position == nil || b.Position == nil {
		return a.Position == nil && b.Position == nil
	}
	return *a.Position == *b.Position
}

type MatchParticipant struct {
	TeamID        int           `json:"team_id" db:"team_id"`
	Position      *int          `json:"position,omitempty" db:"position"`
	Kills         int           `json:"kills" db:"kills"`
	Points        int           `json:"points" db:"points"`
	ChickenDinner bool          `json:"chicken_dinner" db:"chicken_dinner"`
	Applied       AppliedResult `json:"applied" db:"-"`
}

// HasResult reports whether a placement was recorded for the participant.
func (p *MatchParticipant) HasResult() bool {
	return p.Position != nil
}

type Match struct {
	ID           int         `json:"id" db:"id"`
	TournamentID int         `json:"tournament_id" db:"tournament_id"`
	Phase        string      `json:"phase" db:"phase"`
	Group        *string     `json:"group,omitempty" db:"group_name"`
	Number       int         `json:"number" db:"number"`
	Status       MatchStatus `json:"status" db:"status"`
	ScheduledAt  *time.Time  `json:"scheduled_at,omitempty" db:"scheduled_at"`

	ResultsUpdatedBy *int       `json:"results_updated_by,omitempty" db:"results_updated_by"`
	ResultsUpdatedAt *time.Time `json:"results_updated_at,omitempty" db:"results_updated_at"`
	FinalizedBy      *int       `json:"finalized_by,omitempty" db:"finalized_by"`
	FinalizedAt      *time.Time `json:"finalized_at,omitempty" db:"finalized_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`

	Participants []MatchParticipant `json:"participants" db:"-"`
}

func (m *Match) Participant(teamID int) *MatchParticipant {
	for i := range m.Participants {
		if m.Participants[i].TeamID == teamID {
			return &m.Participants[i]
		}
	}
	return nil
}

// HasResults reports whether at least one participant has a recorded placement.
func (m *Match) HasResults() bool {
	for i := range m.Participants {
		if m.Participants[i].HasResult() {
			return true
		}
	}
	return false
}

func (m *Match) IsEditable() bool {
	return m.Status == MatchScheduled || m.Status == MatchInProgress
}
