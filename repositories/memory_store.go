package repositories

import (
	"context"
	"slices"
	"sync"

	"github.com/Dosada05/tournament-standings/models"
)

type phaseKey struct {
	tournamentID int
	phase        string
}

type phaseStatsKey struct {
	registrationID int
	phase          string
}

// memoryData is the whole state of a MemoryStore. Transactions work on a deep copy that
// replaces the original on commit.
type memoryData struct {
	nextTournamentID    int
	nextRegistrationID  int
	nextMatchID         int
	nextPhaseStandingID int

	tournaments    map[int]*models.Tournament
	phaseTeams     map[phaseKey]map[int]*models.PhaseTeam
	registrations  map[int]*models.Registration
	phaseStats     map[phaseStatsKey]*models.PhaseStats
	matches        map[int]*models.Match
	phaseStandings map[phaseKey]*models.PhaseStanding
}

func newMemoryData() *memoryData {
	return &memoryData{
		tournaments:    map[int]*models.Tournament{},
		phaseTeams:     map[phaseKey]map[int]*models.PhaseTeam{},
		registrations:  map[int]*models.Registration{},
		phaseStats:     map[phaseStatsKey]*models.PhaseStats{},
		matches:        map[int]*models.Match{},
		phaseStandings: map[phaseKey]*models.PhaseStanding{},
	}
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	c.nextTournamentID = d.nextTournamentID
	c.nextRegistrationID = d.nextRegistrationID
	c.nextMatchID = d.nextMatchID
	c.nextPhaseStandingID = d.nextPhaseStandingID

	for id, t := range d.tournaments {
		c.tournaments[id] = copyTournament(t)
	}
	for key, set := range d.phaseTeams {
		cs := make(map[int]*models.PhaseTeam, len(set))
		for teamID, pt := range set {
			cp := *pt
			cs[teamID] = &cp
		}
		c.phaseTeams[key] = cs
	}
	for id, r := range d.registrations {
		c.registrations[id] = copyRegistration(r)
	}
	for key, s := range d.phaseStats {
		cp := *s
		c.phaseStats[key] = &cp
	}
	for id, m := range d.matches {
		c.matches[id] = copyMatch(m)
	}
	for key, ps := range d.phaseStandings {
		c.phaseStandings[key] = ps.Clone()
	}
	return c
}

// MemoryStore is an in-process Store. Writes outside WithinTx are atomic per call;
// WithinTx serializes transactions and discards their changes when fn fails.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

func (s *MemoryStore) Tournaments() TournamentRepository {
	return &memoryTournamentRepository{memoryRepositories{store: s}}
}

func (s *MemoryStore) PhaseTeams() PhaseTeamRepository {
	return &memoryPhaseTeamRepository{memoryRepositories{store: s}}
}

func (s *MemoryStore) Registrations() RegistrationRepository {
	return &memoryRegistrationRepository{memoryRepositories{store: s}}
}

func (s *MemoryStore) Matches() MatchRepository {
	return &memoryMatchRepository{memoryRepositories{store: s}}
}

func (s *MemoryStore) Standings() StandingRepository {
	return &memoryStandingRepository{memoryRepositories{store: s}}
}

func (s *MemoryStore) PhaseStandings() PhaseStandingRepository {
	return &memoryPhaseStandingRepository{memoryRepositories{store: s}}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, memoryRepositories{tx: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// memoryRepositories binds repositories either to the live store or to a transaction copy.
type memoryRepositories struct {
	store *MemoryStore
	tx    *memoryData
}

func (r memoryRepositories) do(fn func(d *memoryData) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.data)
}

func (r memoryRepositories) Tournaments() TournamentRepository {
	return &memoryTournamentRepository{r}
}

func (r memoryRepositories) PhaseTeams() PhaseTeamRepository {
	return &memoryPhaseTeamRepository{r}
}

func (r memoryRepositories) Registrations() RegistrationRepository {
	return &memoryRegistrationRepository{r}
}

func (r memoryRepositories) Matches() MatchRepository {
	return &memoryMatchRepository{r}
}

func (r memoryRepositories) Standings() StandingRepository {
	return &memoryStandingRepository{r}
}

func (r memoryRepositories) PhaseStandings() PhaseStandingRepository {
	return &memoryPhaseStandingRepository{r}
}

func copyTournament(t *models.Tournament) *models.Tournament {
	cp := *t
	cp.Phases = make([]models.Phase, len(t.Phases))
	for i, p := range t.Phases {
		p.Groups = slices.Clone(p.Groups)
		if p.Qualification != nil {
			rule := *p.Qualification
			p.Qualification = &rule
		}
		cp.Phases[i] = p
	}
	return &cp
}

func copyRegistration(r *models.Registration) *models.Registration {
	cp := *r
	cp.Roster = slices.Clone(r.Roster)
	return &cp
}

func copyMatch(m *models.Match) *models.Match {
	cp := *m
	cp.Participants = slices.Clone(m.Participants)
	return &cp
}

