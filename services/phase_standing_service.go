package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/repositories"
)

const (
	topTeamsLimit           = 20
	defaultSweepConcurrency = 4
)

type PhaseRef struct {
	TournamentID int    `json:"tournament_id"`
	Phase        string `json:"phase"`
}

type PhaseFailure struct {
	PhaseRef
	Error string `json:"error"`
}

// SweepReport lists the outcome of one staleness sweep. Failed phases do not stop the others.
type SweepReport struct {
	Recalculated []PhaseRef     `json:"recalculated"`
	Skipped      []PhaseRef     `json:"skipped"` // no standings yet, snapshot left as is
	Failed       []PhaseFailure `json:"failed"`
}

// PhaseStandingService materializes per-phase snapshots of the standings.
type PhaseStandingService struct {
	store       repositories.Store
	events      EventSink
	logger      *slog.Logger
	threshold   time.Duration
	concurrency int
	now         func() time.Time

	flight singleflight.Group
}

func NewPhaseStandingService(
	store repositories.Store,
	events EventSink,
	logger *slog.Logger,
	threshold time.Duration,
	concurrency int,
) *PhaseStandingService {
	if threshold <= 0 {
		threshold = models.DefaultStalenessThreshold
	}
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}
	return &PhaseStandingService{
		store:       store,
		events:      sinkOrNoop(events),
		logger:      logger,
		threshold:   threshold,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *PhaseStandingService) Threshold() time.Duration { return s.threshold }

// Recalculate rebuilds the snapshot of one phase. Concurrent calls for the same phase share a
// single execution. When the phase has no standings the previous snapshot is returned as is
// (nil if none exists).
func (s *PhaseStandingService) Recalculate(ctx context.Context, tournamentID int, phase string, by models.CalculatedBy) (*models.PhaseStanding, error) {
	ps, _, err := s.recalculateShared(ctx, tournamentID, phase, by)
	return ps, err
}

type recalcOutcome struct {
	snapshot     *models.PhaseStanding
	recalculated bool
}

// recalculateShared also reports whether a snapshot was written. The shared execution is
// detached from the caller's cancellation since other waiters depend on it.
func (s *PhaseStandingService) recalculateShared(ctx context.Context, tournamentID int, phase string, by models.CalculatedBy) (*models.PhaseStanding, bool, error) {
	key := fmt.Sprintf("%d/%s", tournamentID, phase)
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		var out recalcOutcome
		err := s.store.WithinTx(shared, func(ctx context.Context, tx repositories.Repositories) error {
			ps, changed, err := s.recalculate(ctx, tx, tournamentID, phase, by)
			out = recalcOutcome{snapshot: ps, recalculated: changed}
			return err
		})
		if err != nil {
			return nil, err
		}
		if out.recalculated {
			event := newEvent(models.EventStandingsRecalculated, tournamentID, s.now())
			event.Phase = phase
			s.events.Publish(event)
		}
		return out, nil
	})
	if err != nil {
		return nil, false, err
	}
	out, _ := v.(recalcOutcome)
	// Every waiter gets its own copy.
	return out.snapshot.Clone(), out.recalculated, nil
}

// recalculate runs inside the caller's transaction and reports whether a snapshot was written.
func (s *PhaseStandingService) recalculate(ctx context.Context, tx repositories.Repositories, tournamentID int, phaseName string, by models.CalculatedBy) (*models.PhaseStanding, bool, error) {
	t, err := tx.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		return nil, false, translateStoreError(err, "get tournament")
	}
	phase := t.Phase(phaseName)
	if phase == nil {
		return nil, false, notFound("phase", phaseName)
	}

	rows, err := rankedStandings(ctx, tx, tournamentID, phaseName, nil)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		existing, err := tx.PhaseStandings().Get(ctx, tournamentID, phaseName)
		if errors.Is(err, repositories.ErrPhaseStandingNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, translateStoreError(err, "get phase standing")
		}
		return existing, false, nil
	}

	totalMatches, groupMatches, err := tx.Matches().CountCompleted(ctx, tournamentID, phaseName)
	if err != nil {
		return nil, false, translateStoreError(err, "count completed matches")
	}

	ps, err := tx.PhaseStandings().GetOrCreate(ctx, tournamentID, phaseName, phase.Status)
	if err != nil {
		return nil, false, translateStoreError(err, "get or create phase standing")
	}

	fingerprint := rankingFingerprint(rows)
	if fingerprint != ps.Fingerprint {
		ps.Trends = computeTrends(ps.TopTeams, rows)
		ps.Fingerprint = fingerprint
	}
	ps.Status = phase.Status
	ps.Statistics = computeStatistics(rows, totalMatches)
	ps.TopTeams = topTeams(rows, topTeamsLimit)
	ps.Leaders = computeLeaders(rows)
	ps.Groups = computeGroups(phase.Groups, rows, groupMatches)
	ps.QualifiedTeams, ps.EliminatedTeams = qualificationSets(rows)
	ps.LastCalculated = timePtr(s.now())
	ps.CalculatedBy = by

	if err := tx.PhaseStandings().Save(ctx, ps); err != nil {
		return nil, false, translateStoreError(err, "save phase standing")
	}

	s.logger.Info("phase standings recalculated",
		slog.Int("tournament_id", tournamentID),
		slog.String("phase", phaseName),
		slog.Int("teams", len(rows)),
		slog.String("calculated_by", string(by)))
	return ps, true, nil
}

func computeStatistics(rows []*models.Standing, totalMatches int) models.PhaseStatistics {
	stats := models.PhaseStatistics{TotalTeams: len(rows), TotalMatches: totalMatches}
	matchesPlayed := 0
	for _, st := range rows {
		stats.TotalPoints += st.Points
		stats.TotalKills += st.Kills
		stats.TotalChickenDinners += st.ChickenDinners
		matchesPlayed += st.MatchesPlayed
	}
	if n := float64(len(rows)); n > 0 {
		stats.AveragePoints = float64(stats.TotalPoints) / n
		stats.AverageKills = float64(stats.TotalKills) / n
		stats.AverageMatchesPlayed = float64(matchesPlayed) / n
	}
	return stats
}

func topTeams(rows []*models.Standing, n int) []models.Standing {
	if len(rows) < n {
		n = len(rows)
	}
	result := make([]models.Standing, n)
	for i := 0; i < n; i++ {
		result[i] = *rows[i]
	}
	return result
}

// leaderBy picks the best row by value; ties go to the better leaderboard rank.
func leaderBy(rows []*models.Standing, value func(*models.Standing) float64, lowerIsBetter bool, include func(*models.Standing) bool) *models.LeaderEntry {
	var best *models.Standing
	var bestValue float64
	for _, st := range rows {
		if include != nil && !include(st) {
			continue
		}
		v := value(st)
		if best == nil || (lowerIsBetter && v < bestValue) || (!lowerIsBetter && v > bestValue) {
			best, bestValue = st, v
		}
	}
	if best == nil {
		return nil
	}
	return &models.LeaderEntry{TeamID: best.TeamID, TeamName: best.TeamName, Value: bestValue}
}

func computeLeaders(rows []*models.Standing) models.PhaseLeaders {
	return models.PhaseLeaders{
		MostPoints: leaderBy(rows, func(st *models.Standing) float64 { return float64(st.Points) }, false, nil),
		MostKills:  leaderBy(rows, func(st *models.Standing) float64 { return float64(st.Kills) }, false, nil),
		MostChickenDinners: leaderBy(rows, func(st *models.Standing) float64 {
			return float64(st.ChickenDinners)
		}, false, nil),
		BestAveragePosition: leaderBy(rows, func(st *models.Standing) float64 {
			return st.AveragePosition()
		}, true, func(st *models.Standing) bool { return st.MatchesPlayed > 0 }),
	}
}

func computeGroups(groups []string, rows []*models.Standing, groupMatches map[string]int) []models.GroupSummary {
	if len(groups) == 0 {
		return nil
	}
	summaries := make([]models.GroupSummary, 0, len(groups))
	for _, name := range groups {
		summary := models.GroupSummary{Name: name, MatchesPlayed: groupMatches[name]}
		for _, st := range rows {
			if !st.InGroup(name) {
				continue
			}
			summary.TeamCount++
			if summary.Leader == nil {
				leader := *st
				summary.Leader = &leader
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func qualificationSets(rows []*models.Standing) ([]int, []int) {
	qualified := make([]int, 0)
	eliminated := make([]int, 0)
	for _, st := range rows {
		switch {
		case st.IsQualified:
			qualified = append(qualified, st.TeamID)
		case st.IsEliminated:
			eliminated = append(eliminated, st.TeamID)
		}
	}
	return qualified, eliminated
}

// computeTrends compares the new top teams with the previous snapshot's top teams.
func computeTrends(previous []models.Standing, rows []*models.Standing) []models.TrendDelta {
	type prevEntry struct{ rank, points int }
	prev := make(map[int]prevEntry, len(previous))
	for _, st := range previous {
		prev[st.TeamID] = prevEntry{rank: st.Rank, points: st.Points}
	}

	n := min(len(rows), topTeamsLimit)
	trends := make([]models.TrendDelta, 0, n)
	for _, st := range rows[:n] {
		delta := models.TrendDelta{TeamID: st.TeamID, CurrentRank: st.Rank, PointsChange: st.Points}
		if p, ok := prev[st.TeamID]; ok {
			delta.PreviousRank = p.rank
			delta.RankChange = p.rank - st.Rank
			delta.PointsChange = st.Points - p.points
		}
		trends = append(trends, delta)
	}
	return trends
}

func (s *PhaseStandingService) GetOrCreate(ctx context.Context, tournamentID int, phase string) (*models.PhaseStanding, error) {
	t, err := s.store.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		return nil, translateStoreError(err, "get tournament")
	}
	p := t.Phase(phase)
	if p == nil {
		return nil, notFound("phase", phase)
	}
	ps, err := s.store.PhaseStandings().GetOrCreate(ctx, tournamentID, phase, p.Status)
	if err != nil {
		return nil, translateStoreError(err, "get or create phase standing")
	}
	return ps, nil
}

func (s *PhaseStandingService) Get(ctx context.Context, tournamentID int, phase string) (*models.PhaseStanding, error) {
	ps, err := s.store.PhaseStandings().Get(ctx, tournamentID, phase)
	if err != nil {
		if errors.Is(err, repositories.ErrPhaseStandingNotFound) {
			return nil, notFound("phase standing", fmt.Sprintf("%d/%s", tournamentID, phase))
		}
		return nil, translateStoreError(err, "get phase standing")
	}
	return ps, nil
}

// IsStale reports whether ps is older than the configured threshold.
func (s *PhaseStandingService) IsStale(ps *models.PhaseStanding) bool {
	return ps.IsStale(s.now(), s.threshold)
}

// GetStale returns in-progress snapshots calculated more than thresholdMinutes ago or never.
// A non-positive value uses the configured threshold.
func (s *PhaseStandingService) GetStale(ctx context.Context, thresholdMinutes int) ([]*models.PhaseStanding, error) {
	threshold := time.Duration(thresholdMinutes) * time.Minute
	if thresholdMinutes <= 0 {
		threshold = s.threshold
	}
	return s.listStale(ctx, threshold)
}

func (s *PhaseStandingService) listStale(ctx context.Context, threshold time.Duration) ([]*models.PhaseStanding, error) {
	stale, err := s.store.PhaseStandings().ListStale(ctx, s.now().Add(-threshold))
	if err != nil {
		return nil, translateStoreError(err, "list stale phase standings")
	}
	return stale, nil
}

// SweepStale recalculates every stale in-progress phase with bounded parallelism.
// A failing phase is reported and does not abort the others.
func (s *PhaseStandingService) SweepStale(ctx context.Context, threshold time.Duration) (SweepReport, error) {
	if threshold <= 0 {
		threshold = s.threshold
	}
	report := SweepReport{Recalculated: []PhaseRef{}, Skipped: []PhaseRef{}, Failed: []PhaseFailure{}}

	stale, err := s.listStale(ctx, threshold)
	if err != nil {
		return report, err
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, ps := range stale {
		ref := PhaseRef{TournamentID: ps.TournamentID, Phase: ps.Phase}
		g.Go(func() error {
			_, recalculated, err := s.recalculateShared(ctx, ref.TournamentID, ref.Phase, models.CalculatedAutomatic)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("stale phase recalculation failed",
					slog.Int("tournament_id", ref.TournamentID),
					slog.String("phase", ref.Phase),
					slog.Any("error", err))
				report.Failed = append(report.Failed, PhaseFailure{PhaseRef: ref, Error: err.Error()})
				return nil
			}
			if !recalculated {
				report.Skipped = append(report.Skipped, ref)
				return nil
			}
			report.Recalculated = append(report.Recalculated, ref)
			return nil
		})
	}
	_ = g.Wait()

	sortRefs := func(a, b PhaseRef) int {
		if a.TournamentID != b.TournamentID {
			return a.TournamentID - b.TournamentID
		}
		if a.Phase < b.Phase {
			return -1
		}
		if a.Phase > b.Phase {
			return 1
		}
		return 0
	}
	slices.SortFunc(report.Recalculated, sortRefs)
	slices.SortFunc(report.Skipped, sortRefs)
	slices.SortFunc(report.Failed, func(a, b PhaseFailure) int { return sortRefs(a.PhaseRef, b.PhaseRef) })
	return report, nil
}
