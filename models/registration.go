package models

import "time"

type RegistrationStatus string

const (
	RegistrationPending      RegistrationStatus = "pending"
	RegistrationApproved     RegistrationStatus = "approved"
	RegistrationRejected     RegistrationStatus = "rejected"
	RegistrationCheckedIn    RegistrationStatus = "checked_in"
	RegistrationDisqualified RegistrationStatus = "disqualified"
	RegistrationWithdrawn    RegistrationStatus = "withdrawn"
)

// ActiveRegistrationStatuses is the set counted in participating_teams_count.
var ActiveRegistrationStatuses = []RegistrationStatus{RegistrationApproved, RegistrationCheckedIn}

func (s RegistrationStatus) IsActive() bool {
	return s == RegistrationApproved || s == RegistrationCheckedIn
}

func (s RegistrationStatus) IsTerminal() bool {
	switch s {
	case RegistrationRejected, RegistrationDisqualified, RegistrationWithdrawn:
		return true
	}
	return false
}

type QualificationMethod string

const (
	QualifiedByRegistration QualificationMethod = "open_registration"
	QualifiedByInvitation   QualificationMethod = "invited"
	QualifiedByStandings    QualificationMethod = "qualified"
)

// Registration is the participation of one team in one tournament.
type Registration struct {
	ID                  int                 `json:"id" db:"id"`
	TournamentID        int                 `json:"tournament_id" db:"tournament_id"`
	TeamID              int                 `json:"team_id" db:"team_id"`
	TeamName            string              `json:"team_name" db:"team_name"`
	Status              RegistrationStatus  `json:"status" db:"status"`
	QualificationMethod QualificationMethod `json:"qualification_method" db:"qualification_method"`
	CurrentPhase        *string             `json:"current_phase,omitempty" db:"current_phase"`
	CurrentGroup        *string             `json:"current_group,omitempty" db:"current_group"`

	TotalPoints    int  `json:"total_tournament_points" db:"total_points"`
	TotalKills     int  `json:"total_kills" db:"total_kills"`
	ChickenDinners int  `json:"chicken_dinners" db:"chicken_dinners"`
	MatchesPlayed  int  `json:"matches_played" db:"matches_played"`
	PositionSum    int  `json:"-" db:"position_sum"`
	FinalPosition  *int `json:"final_position,omitempty" db:"final_position"`

	Roster []string `json:"roster" db:"roster"`

	ApprovedBy             *int       `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt             *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	RejectedBy             *int       `json:"rejected_by,omitempty" db:"rejected_by"`
	RejectedAt             *time.Time `json:"rejected_at,omitempty" db:"rejected_at"`
	RejectionReason        *string    `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CheckedInBy            *int       `json:"checked_in_by,omitempty" db:"checked_in_by"`
	CheckedInAt            *time.Time `json:"checked_in_at,omitempty" db:"checked_in_at"`
	DisqualifiedBy         *int       `json:"disqualified_by,omitempty" db:"disqualified_by"`
	DisqualifiedAt         *time.Time `json:"disqualified_at,omitempty" db:"disqualified_at"`
	DisqualificationReason *string    `json:"disqualification_reason,omitempty" db:"disqualification_reason"`
	WithdrawnBy            *int       `json:"withdrawn_by,omitempty" db:"withdrawn_by"`
	WithdrawnAt            *time.Time `json:"withdrawn_at,omitempty" db:"withdrawn_at"`
	WithdrawalReason       *string    `json:"withdrawal_reason,omitempty" db:"withdrawal_reason"`

	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AveragePosition is the mean placement over played matches; 0 when nothing was played.
func (r *Registration) AveragePosition() float64 {
	if r.MatchesPlayed == 0 {
		return 0
	}
	return float64(r.PositionSum) / float64(r.MatchesPlayed)
}

// IsFinal reports whether the registration can no longer change: a terminal status,
// or any status once the tournament itself is over.
func (r *Registration) IsFinal(t *Tournament) bool {
	if r.Status.IsTerminal() {
		return true
	}
	return t != nil && t.Status == TournamentCompleted
}

// PhaseStats holds the per-phase share of a registration's aggregates.
type PhaseStats struct {
	RegistrationID int    `json:"registration_id" db:"registration_id"`
	Phase          string `json:"phase" db:"phase"`
	Points         int    `json:"points" db:"points"`
	Kills          int    `json:"kills" db:"kills"`
	ChickenDinners int    `json:"chicken_dinners" db:"chicken_dinners"`
	MatchesPlayed  int    `json:"matches_played" db:"matches_played"`
	PositionSum    int    `json:"position_sum" db:"position_sum"`
}

// StatsDelta is a signed change applied to registration aggregates as one unit.
type StatsDelta struct {
	Points         int
	Kills          int
	ChickenDinners int
	MatchesPlayed  int
	PositionSum    int
}

func (d StatsDelta) IsZero() bool {
	return d == StatsDelta{}
}

func (s *PhaseStats) Apply(d StatsDelta) {
	s.Points += d.Points
	s.Kills += d.Kills
	s.ChickenDinners += d.ChickenDinners
	s.MatchesPlayed += d.MatchesPlayed
	s.PositionSum += d.PositionSum
}

func (r *Registration) Apply(d StatsDelta) {
	r.TotalPoints += d.Points
	r.TotalKills += d.Kills
	r.ChickenDinners += d.ChickenDinners
	r.MatchesPlayed += d.MatchesPlayed
	r.PositionSum += d.PositionSum
}
