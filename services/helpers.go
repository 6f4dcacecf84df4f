package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/cespare/xxhash/v2"
)

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func stringPtr(s string) *string { return &s }

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var registrationTransitions = map[models.RegistrationStatus][]models.RegistrationStatus{
	models.RegistrationPending:   {models.RegistrationApproved, models.RegistrationRejected},
	models.RegistrationApproved:  {models.RegistrationCheckedIn, models.RegistrationDisqualified, models.RegistrationWithdrawn},
	models.RegistrationCheckedIn: {models.RegistrationDisqualified, models.RegistrationWithdrawn},
}

func isValidRegistrationTransition(current, next models.RegistrationStatus) bool {
	for _, allowed := range registrationTransitions[current] {
		if next == allowed {
			return true
		}
	}
	return false
}

// rankingFingerprint identifies a ranked standing set. Two rankings with the same
// fingerprint produce the same snapshot.
func rankingFingerprint(rows []*models.Standing) string {
	var b strings.Builder
	for _, st := range rows {
		fmt.Fprintf(&b, "%d:%s:%d:%d:%d:%d:%d:%t:%t;",
			st.TeamID, derefString(st.Group), st.Points, st.Kills, st.ChickenDinners,
			st.MatchesPlayed, st.PositionSum, st.IsQualified, st.IsEliminated)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}
