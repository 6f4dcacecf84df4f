package services

import (
	"time"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/google/uuid"
)

// EventSink receives domain events. Implementations must not block the caller.
type EventSink interface {
	Publish(event models.Event)
}

type noopSink struct{}

func (noopSink) Publish(models.Event) {}

func sinkOrNoop(sink EventSink) EventSink {
	if sink == nil {
		return noopSink{}
	}
	return sink
}

func newEvent(eventType models.EventType, tournamentID int, at time.Time) models.Event {
	return models.Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		TournamentID: tournamentID,
		OccurredAt:   at,
	}
}
