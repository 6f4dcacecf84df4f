package models

import "time"

type EventType string

const (
	EventRegistrationApproved     EventType = "registration.approved"
	EventRegistrationRejected     EventType = "registration.rejected"
	EventRegistrationCheckedIn    EventType = "registration.checked_in"
	EventRegistrationDisqualified EventType = "registration.disqualified"
	EventRegistrationWithdrawn    EventType = "registration.withdrawn"
	EventMatchResultsUpdated      EventType = "match.resultsUpdated"
	EventMatchFinalized           EventType = "match.finalized"
	EventStandingsRecalculated    EventType = "standings.recalculated"
	EventPhaseStarted             EventType = "phase.started"
	EventPhaseCompleted           EventType = "phase.completed"
	EventTeamQualified            EventType = "team.qualified"
	EventTeamEliminated           EventType = "team.eliminated"
)

// Event is a domain event handed to the notification layer.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	TournamentID   int       `json:"tournament_id"`
	Phase          string    `json:"phase,omitempty"`
	TeamID         int       `json:"team_id,omitempty"`
	RegistrationID int       `json:"registration_id,omitempty"`
	MatchID        int       `json:"match_id,omitempty"`
	ActorID        int       `json:"actor_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
