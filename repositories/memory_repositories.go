package repositories

import (
	"context"
	"slices"
	"time"

	"github.com/Dosada05/tournament-standings/models"
)

type memoryTournamentRepository struct{ memoryRepositories }

func (r *memoryTournamentRepository) Create(_ context.Context, t *models.Tournament) error {
	return r.do(func(d *memoryData) error {
		for _, existing := range d.tournaments {
			if existing.OrganizerID == t.OrganizerID && existing.Name == t.Name {
				return ErrTournamentNameConflict
			}
		}
		d.nextTournamentID++
		t.ID = d.nextTournamentID
		t.CreatedAt = time.Now().UTC()
		for i := range t.Phases {
			t.Phases[i].Position = i
		}
		d.tournaments[t.ID] = copyTournament(t)
		return nil
	})
}

func (r *memoryTournamentRepository) GetByID(_ context.Context, id int) (*models.Tournament, error) {
	var result *models.Tournament
	err := r.do(func(d *memoryData) error {
		t, ok := d.tournaments[id]
		if !ok {
			return ErrTournamentNotFound
		}
		result = copyTournament(t)
		return nil
	})
	return result, err
}

// LockForUpdate only checks existence: memory transactions are already serialized.
func (r *memoryTournamentRepository) LockForUpdate(_ context.Context, id int) error {
	return r.do(func(d *memoryData) error {
		if _, ok := d.tournaments[id]; !ok {
			return ErrTournamentNotFound
		}
		return nil
	})
}

func (r *memoryTournamentRepository) List(_ context.Context, filter ListTournamentsFilter) ([]models.Tournament, error) {
	result := make([]models.Tournament, 0)
	err := r.do(func(d *memoryData) error {
		for _, t := range d.tournaments {
			if filter.OrganizerID != nil && t.OrganizerID != *filter.OrganizerID {
				continue
			}
			if filter.Status != nil && t.Status != *filter.Status {
				continue
			}
			cp := *t
			cp.Phases = nil
			result = append(result, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(result, func(a, b models.Tournament) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return b.ID - a.ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []models.Tournament{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *memoryTournamentRepository) UpdateStatus(_ context.Context, id int, status models.TournamentStatus) error {
	return r.do(func(d *memoryData) error {
		t, ok := d.tournaments[id]
		if !ok {
			return ErrTournamentNotFound
		}
		t.Status = status
		return nil
	})
}

func (r *memoryTournamentRepository) UpdatePhaseStatus(_ context.Context, id int, phase string, from, to models.PhaseStatus) error {
	return r.do(func(d *memoryData) error {
		t, ok := d.tournaments[id]
		if !ok {
			return ErrTournamentNotFound
		}
		p := t.Phase(phase)
		if p == nil {
			return ErrPhaseNotFound
		}
		if p.Status != from {
			return ErrPhaseStatusConflict
		}
		p.Status = to
		return nil
	})
}

func (r *memoryTournamentRepository) UpdatePhaseGroups(_ context.Context, id int, phase string, groups []string) error {
	return r.do(func(d *memoryData) error {
		t, ok := d.tournaments[id]
		if !ok {
			return ErrTournamentNotFound
		}
		p := t.Phase(phase)
		if p == nil {
			return ErrPhaseNotFound
		}
		p.Groups = slices.Clone(groups)
		return nil
	})
}

func (r *memoryTournamentRepository) IncrementRegisteredCount(_ context.Context, id int, delta int) error {
	return r.do(func(d *memoryData) error {
		t, ok := d.tournaments[id]
		if !ok {
			return ErrTournamentNotFound
		}
		t.RegisteredTeamsCount += delta
		return nil
	})
}

func (r *memoryTournamentRepository) RecountParticipatingTeams(_ context.Context, id int) (int, error) {
	var count int
	err := r.do(func(d *memoryData) error {
		t, ok := d.tournaments[id]
		if !ok {
			return ErrTournamentNotFound
		}
		for _, reg := range d.registrations {
			if reg.TournamentID == id && reg.Status.IsActive() {
				count++
			}
		}
		t.ParticipatingTeamsCount = count
		return nil
	})
	return count, err
}

type memoryPhaseTeamRepository struct{ memoryRepositories }

func (r *memoryPhaseTeamRepository) Add(_ context.Context, pt *models.PhaseTeam) (bool, error) {
	var added bool
	err := r.do(func(d *memoryData) error {
		t, ok := d.tournaments[pt.TournamentID]
		if !ok || t.Phase(pt.Phase) == nil {
			return ErrPhaseNotFound
		}
		key := phaseKey{pt.TournamentID, pt.Phase}
		set, ok := d.phaseTeams[key]
		if !ok {
			set = map[int]*models.PhaseTeam{}
			d.phaseTeams[key] = set
		}
		if _, exists := set[pt.TeamID]; exists {
			return nil
		}
		if pt.Status == "" {
			pt.Status = models.MembershipActive
		}
		if pt.AddedAt.IsZero() {
			pt.AddedAt = time.Now().UTC()
		}
		cp := *pt
		set[pt.TeamID] = &cp
		added = true
		return nil
	})
	return added, err
}

func (r *memoryPhaseTeamRepository) Get(_ context.Context, tournamentID int, phase string, teamID int) (*models.PhaseTeam, error) {
	var result *models.PhaseTeam
	err := r.do(func(d *memoryData) error {
		pt, ok := d.phaseTeams[phaseKey{tournamentID, phase}][teamID]
		if !ok {
			return ErrPhaseTeamNotFound
		}
		cp := *pt
		result = &cp
		return nil
	})
	return result, err
}

func (r *memoryPhaseTeamRepository) ListByPhase(_ context.Context, tournamentID int, phase string) ([]models.PhaseTeam, error) {
	teams := make([]models.PhaseTeam, 0)
	err := r.do(func(d *memoryData) error {
		for _, pt := range d.phaseTeams[phaseKey{tournamentID, phase}] {
			teams = append(teams, *pt)
		}
		return nil
	})
	slices.SortFunc(teams, func(a, b models.PhaseTeam) int { return a.TeamID - b.TeamID })
	return teams, err
}

func (r *memoryPhaseTeamRepository) update(tournamentID int, phase string, teamID int, fn func(pt *models.PhaseTeam)) error {
	return r.do(func(d *memoryData) error {
		pt, ok := d.phaseTeams[phaseKey{tournamentID, phase}][teamID]
		if !ok {
			return ErrPhaseTeamNotFound
		}
		fn(pt)
		return nil
	})
}

func (r *memoryPhaseTeamRepository) SetGroup(_ context.Context, tournamentID int, phase string, teamID int, group *string) error {
	return r.update(tournamentID, phase, teamID, func(pt *models.PhaseTeam) { pt.Group = group })
}

func (r *memoryPhaseTeamRepository) SetStatus(_ context.Context, tournamentID int, phase string, teamID int, status models.MembershipStatus) error {
	return r.update(tournamentID, phase, teamID, func(pt *models.PhaseTeam) { pt.Status = status })
}

func (r *memoryPhaseTeamRepository) Remove(_ context.Context, tournamentID int, phase string, teamID int) error {
	return r.do(func(d *memoryData) error {
		set := d.phaseTeams[phaseKey{tournamentID, phase}]
		if _, ok := set[teamID]; !ok {
			return ErrPhaseTeamNotFound
		}
		delete(set, teamID)
		return nil
	})
}

func (r *memoryPhaseTeamRepository) Count(_ context.Context, tournamentID int, phase string) (int, error) {
	var count int
	err := r.do(func(d *memoryData) error {
		count = len(d.phaseTeams[phaseKey{tournamentID, phase}])
		return nil
	})
	return count, err
}

type memoryRegistrationRepository struct{ memoryRepositories }

func (r *memoryRegistrationRepository) Create(_ context.Context, reg *models.Registration) error {
	return r.do(func(d *memoryData) error {
		if _, ok := d.tournaments[reg.TournamentID]; !ok {
			return ErrTournamentNotFound
		}
		for _, existing := range d.registrations {
			if existing.TournamentID == reg.TournamentID && existing.TeamID == reg.TeamID {
				return ErrRegistrationConflict
			}
		}
		d.nextRegistrationID++
		now := time.Now().UTC()
		reg.ID = d.nextRegistrationID
		reg.Version = 1
		reg.CreatedAt = now
		reg.UpdatedAt = now
		d.registrations[reg.ID] = copyRegistration(reg)
		return nil
	})
}

func (r *memoryRegistrationRepository) GetByID(_ context.Context, id int) (*models.Registration, error) {
	var result *models.Registration
	err := r.do(func(d *memoryData) error {
		reg, ok := d.registrations[id]
		if !ok {
			return ErrRegistrationNotFound
		}
		result = copyRegistration(reg)
		return nil
	})
	return result, err
}

func (r *memoryRegistrationRepository) GetByTournamentAndTeam(_ context.Context, tournamentID, teamID int) (*models.Registration, error) {
	var result *models.Registration
	err := r.do(func(d *memoryData) error {
		for _, reg := range d.registrations {
			if reg.TournamentID == tournamentID && reg.TeamID == teamID {
				result = copyRegistration(reg)
				return nil
			}
		}
		return ErrRegistrationNotFound
	})
	return result, err
}

func (r *memoryRegistrationRepository) ListByTournament(_ context.Context, tournamentID int, statusFilter *models.RegistrationStatus) ([]*models.Registration, error) {
	result := make([]*models.Registration, 0)
	err := r.do(func(d *memoryData) error {
		for _, reg := range d.registrations {
			if reg.TournamentID != tournamentID {
				continue
			}
			if statusFilter != nil && reg.Status != *statusFilter {
				continue
			}
			result = append(result, copyRegistration(reg))
		}
		return nil
	})
	slices.SortFunc(result, func(a, b *models.Registration) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.ID - b.ID
	})
	return result, err
}

func (r *memoryRegistrationRepository) UpdateStatus(_ context.Context, reg *models.Registration, from models.RegistrationStatus) error {
	return r.do(func(d *memoryData) error {
		stored, ok := d.registrations[reg.ID]
		if !ok || stored.Status != from || stored.Version != reg.Version {
			return ErrRegistrationStale
		}
		reg.Version++
		reg.UpdatedAt = time.Now().UTC()

		updated := copyRegistration(stored)
		updated.Status = reg.Status
		updated.QualificationMethod = reg.QualificationMethod
		updated.CurrentPhase = reg.CurrentPhase
		updated.CurrentGroup = reg.CurrentGroup
		updated.ApprovedBy, updated.ApprovedAt = reg.ApprovedBy, reg.ApprovedAt
		updated.RejectedBy, updated.RejectedAt, updated.RejectionReason = reg.RejectedBy, reg.RejectedAt, reg.RejectionReason
		updated.CheckedInBy, updated.CheckedInAt = reg.CheckedInBy, reg.CheckedInAt
		updated.DisqualifiedBy, updated.DisqualifiedAt = reg.DisqualifiedBy, reg.DisqualifiedAt
		updated.DisqualificationReason = reg.DisqualificationReason
		updated.WithdrawnBy, updated.WithdrawnAt, updated.WithdrawalReason = reg.WithdrawnBy, reg.WithdrawnAt, reg.WithdrawalReason
		updated.Version = reg.Version
		updated.UpdatedAt = reg.UpdatedAt
		d.registrations[reg.ID] = updated
		return nil
	})
}

func (r *memoryRegistrationRepository) UpdateProgress(_ context.Context, id int, phase, group *string, method models.QualificationMethod) error {
	return r.do(func(d *memoryData) error {
		reg, ok := d.registrations[id]
		if !ok {
			return ErrRegistrationNotFound
		}
		reg.CurrentPhase = phase
		reg.CurrentGroup = group
		reg.QualificationMethod = method
		reg.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (r *memoryRegistrationRepository) ApplyStatsDelta(_ context.Context, id int, phase string, delta models.StatsDelta) error {
	return r.do(func(d *memoryData) error {
		reg, ok := d.registrations[id]
		if !ok {
			return ErrRegistrationNotFound
		}
		reg.Apply(delta)
		reg.UpdatedAt = time.Now().UTC()

		key := phaseStatsKey{id, phase}
		stats, ok := d.phaseStats[key]
		if !ok {
			stats = &models.PhaseStats{RegistrationID: id, Phase: phase}
			d.phaseStats[key] = stats
		}
		stats.Apply(delta)
		return nil
	})
}

func (r *memoryRegistrationRepository) GetPhaseStats(_ context.Context, id int, phase string) (*models.PhaseStats, error) {
	result := &models.PhaseStats{RegistrationID: id, Phase: phase}
	err := r.do(func(d *memoryData) error {
		if stats, ok := d.phaseStats[phaseStatsKey{id, phase}]; ok {
			*result = *stats
		}
		return nil
	})
	return result, err
}

func (r *memoryRegistrationRepository) SetFinalPosition(_ context.Context, id int, position int) error {
	return r.do(func(d *memoryData) error {
		reg, ok := d.registrations[id]
		if !ok {
			return ErrRegistrationNotFound
		}
		reg.FinalPosition = &position
		reg.UpdatedAt = time.Now().UTC()
		return nil
	})
}

type memoryMatchRepository struct{ memoryRepositories }

func (r *memoryMatchRepository) Create(_ context.Context, m *models.Match) error {
	return r.do(func(d *memoryData) error {
		t, ok := d.tournaments[m.TournamentID]
		if !ok || t.Phase(m.Phase) == nil {
			return ErrPhaseNotFound
		}
		if m.Number <= 0 {
			for _, existing := range d.matches {
				if existing.TournamentID == m.TournamentID && existing.Phase == m.Phase && existing.Number > m.Number {
					m.Number = existing.Number
				}
			}
			m.Number++
		}
		d.nextMatchID++
		m.ID = d.nextMatchID
		m.CreatedAt = time.Now().UTC()
		d.matches[m.ID] = copyMatch(m)
		return nil
	})
}

func (r *memoryMatchRepository) GetByID(_ context.Context, id int) (*models.Match, error) {
	var result *models.Match
	err := r.do(func(d *memoryData) error {
		m, ok := d.matches[id]
		if !ok {
			return ErrMatchNotFound
		}
		result = copyMatch(m)
		return nil
	})
	return result, err
}

func (r *memoryMatchRepository) ListByPhase(_ context.Context, tournamentID int, phase string) ([]*models.Match, error) {
	result := make([]*models.Match, 0)
	err := r.do(func(d *memoryData) error {
		for _, m := range d.matches {
			if m.TournamentID == tournamentID && m.Phase == phase {
				result = append(result, copyMatch(m))
			}
		}
		return nil
	})
	slices.SortFunc(result, func(a, b *models.Match) int {
		if a.Number != b.Number {
			return a.Number - b.Number
		}
		return a.ID - b.ID
	})
	return result, err
}

func (r *memoryMatchRepository) SaveResults(_ context.Context, m *models.Match) error {
	return r.do(func(d *memoryData) error {
		stored, ok := d.matches[m.ID]
		if !ok || !stored.IsEditable() {
			return ErrMatchStale
		}
		updated := copyMatch(stored)
		for _, p := range m.Participants {
			target := updated.Participant(p.TeamID)
			if target == nil {
				return ErrMatchStale
			}
			target.Position = p.Position
			target.Kills = p.Kills
			target.Points = p.Points
			target.ChickenDinner = p.ChickenDinner
		}
		updated.Status = m.Status
		updated.ResultsUpdatedBy = m.ResultsUpdatedBy
		updated.ResultsUpdatedAt = m.ResultsUpdatedAt
		d.matches[m.ID] = updated
		return nil
	})
}

func (r *memoryMatchRepository) MarkApplied(_ context.Context, matchID, teamID int, prev, next models.AppliedResult) error {
	return r.do(func(d *memoryData) error {
		m, ok := d.matches[matchID]
		if !ok {
			return ErrMatchStale
		}
		p := m.Participant(teamID)
		if p == nil || !p.Applied.Equal(prev) {
			return ErrMatchStale
		}
		p.Applied = next
		return nil
	})
}

func (r *memoryMatchRepository) UpdateStatus(_ context.Context, m *models.Match, from models.MatchStatus) error {
	return r.do(func(d *memoryData) error {
		stored, ok := d.matches[m.ID]
		if !ok || stored.Status != from {
			return ErrMatchStale
		}
		stored.Status = m.Status
		stored.FinalizedBy = m.FinalizedBy
		stored.FinalizedAt = m.FinalizedAt
		return nil
	})
}

func (r *memoryMatchRepository) CountCompleted(_ context.Context, tournamentID int, phase string) (int, map[string]int, error) {
	total := 0
	perGroup := make(map[string]int)
	err := r.do(func(d *memoryData) error {
		for _, m := range d.matches {
			if m.TournamentID != tournamentID || m.Phase != phase || m.Status != models.MatchCompleted {
				continue
			}
			total++
			if m.Group != nil {
				perGroup[*m.Group]++
			}
		}
		return nil
	})
	return total, perGroup, err
}

type memoryStandingRepository struct{ memoryRepositories }

func (r *memoryStandingRepository) ListByPhase(_ context.Context, tournamentID int, phase string, group *string) ([]*models.Standing, error) {
	standings := make([]*models.Standing, 0)
	err := r.do(func(d *memoryData) error {
		members := d.phaseTeams[phaseKey{tournamentID, phase}]
		for _, reg := range d.registrations {
			if reg.TournamentID != tournamentID || !reg.Status.IsActive() {
				continue
			}
			pt, ok := members[reg.TeamID]
			if !ok {
				continue
			}
			if group != nil && (pt.Group == nil || *pt.Group != *group) {
				continue
			}
			st := &models.Standing{
				TournamentID:   tournamentID,
				Phase:          phase,
				Group:          pt.Group,
				TeamID:         reg.TeamID,
				TeamName:       reg.TeamName,
				RegistrationID: reg.ID,
				IsQualified:    pt.Status == models.MembershipQualified,
				IsEliminated:   pt.Status == models.MembershipEliminated,
				RegisteredAt:   reg.CreatedAt,
			}
			if stats, ok := d.phaseStats[phaseStatsKey{reg.ID, phase}]; ok {
				st.Points = stats.Points
				st.Kills = stats.Kills
				st.ChickenDinners = stats.ChickenDinners
				st.MatchesPlayed = stats.MatchesPlayed
				st.PositionSum = stats.PositionSum
			}
			standings = append(standings, st)
		}
		return nil
	})
	slices.SortFunc(standings, models.CompareStandings)
	return standings, err
}

type memoryPhaseStandingRepository struct{ memoryRepositories }

func (r *memoryPhaseStandingRepository) GetOrCreate(_ context.Context, tournamentID int, phase string, status models.PhaseStatus) (*models.PhaseStanding, error) {
	var result *models.PhaseStanding
	err := r.do(func(d *memoryData) error {
		key := phaseKey{tournamentID, phase}
		ps, ok := d.phaseStandings[key]
		if !ok {
			t, exists := d.tournaments[tournamentID]
			if !exists || t.Phase(phase) == nil {
				return ErrPhaseNotFound
			}
			d.nextPhaseStandingID++
			ps = &models.PhaseStanding{
				ID:              d.nextPhaseStandingID,
				TournamentID:    tournamentID,
				Phase:           phase,
				Status:          status,
				TopTeams:        []models.Standing{},
				QualifiedTeams:  []int{},
				EliminatedTeams: []int{},
				Version:         1,
				CreatedAt:       time.Now().UTC(),
			}
			d.phaseStandings[key] = ps
		}
		result = ps.Clone()
		return nil
	})
	return result, err
}

func (r *memoryPhaseStandingRepository) Get(_ context.Context, tournamentID int, phase string) (*models.PhaseStanding, error) {
	var result *models.PhaseStanding
	err := r.do(func(d *memoryData) error {
		ps, ok := d.phaseStandings[phaseKey{tournamentID, phase}]
		if !ok {
			return ErrPhaseStandingNotFound
		}
		result = ps.Clone()
		return nil
	})
	return result, err
}

func (r *memoryPhaseStandingRepository) Save(_ context.Context, ps *models.PhaseStanding) error {
	return r.do(func(d *memoryData) error {
		key := phaseKey{ps.TournamentID, ps.Phase}
		stored, ok := d.phaseStandings[key]
		if !ok || stored.ID != ps.ID || stored.Version != ps.Version {
			return ErrPhaseStandingStale
		}
		ps.Version++
		d.phaseStandings[key] = ps.Clone()
		return nil
	})
}

func (r *memoryPhaseStandingRepository) UpdateStatus(_ context.Context, tournamentID int, phase string, status models.PhaseStatus) error {
	return r.do(func(d *memoryData) error {
		ps, ok := d.phaseStandings[phaseKey{tournamentID, phase}]
		if !ok {
			return ErrPhaseStandingNotFound
		}
		ps.Status = status
		ps.Version++
		return nil
	})
}

func (r *memoryPhaseStandingRepository) ListStale(_ context.Context, olderThan time.Time) ([]*models.PhaseStanding, error) {
	result := make([]*models.PhaseStanding, 0)
	err := r.do(func(d *memoryData) error {
		for _, ps := range d.phaseStandings {
			if ps.Status != models.PhaseInProgress {
				continue
			}
			if ps.LastCalculated == nil || ps.LastCalculated.Before(olderThan) {
				result = append(result, ps.Clone())
			}
		}
		return nil
	})
	slices.SortFunc(result, func(a, b *models.PhaseStanding) int { return a.ID - b.ID })
	return result, err
}
