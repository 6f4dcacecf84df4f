package models

import "time"

// TournamentStatus представляет статусы турнира.
type TournamentStatus string

const (
	TournamentUpcoming     TournamentStatus = "upcoming"
	TournamentRegistration TournamentStatus = "registration"
	TournamentInProgress   TournamentStatus = "in_progress"
	TournamentCompleted    TournamentStatus = "completed"
	TournamentCanceled     TournamentStatus = "canceled"
)

func (s TournamentStatus) Valid() bool {
	switch s {
	case TournamentUpcoming, TournamentRegistration, TournamentInProgress, TournamentCompleted, TournamentCanceled:
		return true
	}
	return false
}

type PhaseType string

const (
	PhaseQualifiers PhaseType = "qualifiers"
	PhaseFinalStage PhaseType = "final_stage"
)

type PhaseStatus string

const (
	PhaseUpcoming   PhaseStatus = "upcoming"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
)

type QualificationSource string

const (
	QualifyOverall  QualificationSource = "overall"
	QualifyPerGroup QualificationSource = "per_group"
)

// QualificationRule maps the standings of a phase to advancement into NextPhase.
type QualificationRule struct {
	Slots     int                 `json:"slots" db:"qualification_slots"`
	Source    QualificationSource `json:"source" db:"qualification_source"`
	NextPhase string              `json:"next_phase" db:"next_phase"`
}

// Output returns how many teams the rule advances when the phase has groupCount groups.
func (r QualificationRule) Output(groupCount int) int {
	if r.Source == QualifyPerGroup {
		if groupCount < 1 {
			groupCount = 1
		}
		return r.Slots * groupCount
	}
	return r.Slots
}

type Phase struct {
	Name          string             `json:"name" db:"name"`
	Type          PhaseType          `json:"type" db:"type"`
	Position      int                `json:"position" db:"position"`
	StartsAt      time.Time          `json:"starts_at" db:"starts_at"`
	EndsAt        time.Time          `json:"ends_at" db:"ends_at"`
	Status        PhaseStatus        `json:"status" db:"status"`
	Slots         int                `json:"slots" db:"slots"` // 0 = unlimited
	Groups        []string           `json:"groups,omitempty" db:"groups"`
	Qualification *QualificationRule `json:"qualification,omitempty" db:"-"`
}

// Tournament представляет турнир.
type Tournament struct {
	ID                      int              `json:"id" db:"id"`
	Name                    string           `json:"name" db:"name"`
	OrganizerID             int              `json:"organizer_id" db:"organizer_id"`
	Status                  TournamentStatus `json:"status" db:"status"`
	TotalSlots              int              `json:"total_slots" db:"total_slots"`
	RegisteredTeamsCount    int              `json:"registered_teams_count" db:"registered_teams_count"`
	ParticipatingTeamsCount int              `json:"participating_teams_count" db:"participating_teams_count"`
	CreatedAt               time.Time        `json:"created_at" db:"created_at"`

	Phases []Phase `json:"phases" db:"-"`
}

// Phase returns the phase with the given name, or nil.
func (t *Tournament) Phase(name string) *Phase {
	for i := range t.Phases {
		if t.Phases[i].Name == name {
			return &t.Phases[i]
		}
	}
	return nil
}

func (t *Tournament) FirstPhase() *Phase {
	if len(t.Phases) == 0 {
		return nil
	}
	return &t.Phases[0]
}

// IsLastPhase reports whether name is the final phase in the fixed order.
func (t *Tournament) IsLastPhase(name string) bool {
	return len(t.Phases) > 0 && t.Phases[len(t.Phases)-1].Name == name
}

func (t *Tournament) AcceptsRegistrations() bool {
	return t.Status == TournamentUpcoming || t.Status == TournamentRegistration
}

type MembershipStatus string

const (
	MembershipActive     MembershipStatus = "active"
	MembershipQualified  MembershipStatus = "qualified"
	MembershipEliminated MembershipStatus = "eliminated"
)

// PhaseTeam is one entry of a phase's team set.
type PhaseTeam struct {
	TournamentID int              `json:"tournament_id" db:"tournament_id"`
	Phase        string           `json:"phase" db:"phase"`
	TeamID       int              `json:"team_id" db:"team_id"`
	Group        *string          `json:"group,omitempty" db:"group_name"`
	Status       MembershipStatus `json:"status" db:"status"`
	AddedAt      time.Time        `json:"added_at" db:"added_at"`
}

func (pt *PhaseTeam) InGroup(group string) bool {
	return pt.Group != nil && *pt.Group == group
}
