package progress

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/progression"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
	"github.com/questline/progression/internal/gateways/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 12, 18, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIndividual(t *testing.T) {
	base := models.Baseline{Quests: 10, XP: 5000, Streak: 7}
	cur := models.Baseline{Quests: 14, XP: 6200, Streak: 3}

	tests := []struct {
		target string
		want   int64
	}{
		{models.TargetQuests, 4},
		{models.TargetXP, 1200},
		{models.TargetStreak, 3},
		{"unknown", 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, Individual(tt.target, cur, base))
		})
	}

	assert.Equal(t, int64(0), Individual(models.TargetXP, models.Baseline{XP: 10}, models.Baseline{XP: 50}), "never negative")
}

func TestTeam(t *testing.T) {
	members := []MemberState{
		{Current: models.Baseline{Quests: 5, XP: 900, Streak: 4}, Baseline: models.Baseline{Quests: 2, XP: 100, Streak: 9}},
		{Current: models.Baseline{Quests: 30, XP: 4000, Streak: 12}, Baseline: models.Baseline{Quests: 28, XP: 3900, Streak: 1}},
		// Joined late: counts from their own baseline, not from zero.
		{Current: models.Baseline{Quests: 100, XP: 90000, Streak: 2}, Baseline: models.Baseline{Quests: 100, XP: 90000, Streak: 2}},
	}

	assert.Equal(t, int64(5), Team(models.TargetQuests, members))
	assert.Equal(t, int64(900), Team(models.TargetXP, members))
	assert.Equal(t, int64(12), Team(models.TargetStreak, members))
	assert.Equal(t, int64(0), Team(models.TargetQuests, nil))
}

type env struct {
	store *memory.Store
	agg   *Aggregator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := memory.New()
	granter := progression.NewService(s, nil, discard(), progression.Options{})
	return &env{
		store: s,
		agg:   NewAggregator(s, granter, discard(), Options{Now: func() time.Time { return now }}),
	}
}

func (e *env) user(t *testing.T, p models.Profile) uuid.UUID {
	t.Helper()
	p.ID = uuid.New()
	if p.Level == 0 {
		p.Level = 1
	}
	require.NoError(t, e.store.Profiles().Create(context.Background(), &p))
	return p.ID
}

func (e *env) challenge(t *testing.T, c models.Challenge) *models.Challenge {
	t.Helper()
	c.ID = uuid.New()
	if c.StartsAt.IsZero() {
		c.StartsAt = now.Add(-24 * time.Hour)
	}
	if c.EndsAt.IsZero() {
		c.EndsAt = now.Add(7 * 24 * time.Hour)
	}
	require.NoError(t, e.store.Challenges().Create(context.Background(), &c))
	return &c
}

func (e *env) join(t *testing.T, userID uuid.UUID, ch *models.Challenge, base models.Baseline) uuid.UUID {
	t.Helper()
	p := &models.ChallengeParticipation{
		ID:             uuid.New(),
		UserID:         userID,
		ChallengeID:    ch.ID,
		BaselineQuests: base.Quests,
		BaselineXP:     base.XP,
		BaselineStreak: base.Streak,
		JoinedAt:       now.Add(-time.Hour),
		UpdatedAt:      now.Add(-time.Hour),
	}
	require.NoError(t, e.store.Challenges().CreateParticipation(context.Background(), p))
	return p.ID
}

func (e *env) participation(t *testing.T, userID, challengeID uuid.UUID) *models.ChallengeParticipation {
	t.Helper()
	p, err := e.store.Challenges().GetParticipation(context.Background(), userID, challengeID)
	require.NoError(t, err)
	return p
}

func (e *env) xp(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	p, err := e.store.Profiles().Get(context.Background(), userID)
	require.NoError(t, err)
	return p.XP
}

func badge(id string) *string { return &id }

func TestAggregator_RecomputeForUser_Individual(t *testing.T) {
	tests := []struct {
		name          string
		profile       models.Profile
		challenge     models.Challenge
		baseline      models.Baseline
		wantProgress  int64
		wantCompleted bool
		wantXP        int64
	}{
		{
			name:         "quest delta below target",
			profile:      models.Profile{TotalQuestsCompleted: 12},
			challenge:    models.Challenge{TargetType: models.TargetQuests, TargetValue: 5, RewardXP: 300},
			baseline:     models.Baseline{Quests: 10},
			wantProgress: 2,
		},
		{
			name:          "xp delta crosses target",
			profile:       models.Profile{XP: 2500},
			challenge:     models.Challenge{TargetType: models.TargetXP, TargetValue: 1000, RewardXP: 300},
			baseline:      models.Baseline{XP: 1000},
			wantProgress:  1500,
			wantCompleted: true,
			wantXP:        2800,
		},
		{
			name:          "streak uses the live value",
			profile:       models.Profile{Streak: 7, XP: 100},
			challenge:     models.Challenge{TargetType: models.TargetStreak, TargetValue: 7, RewardXP: 50},
			baseline:      models.Baseline{Streak: 6},
			wantProgress:  7,
			wantCompleted: true,
			wantXP:        150,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			userID := e.user(t, tt.profile)
			ch := e.challenge(t, tt.challenge)
			e.join(t, userID, ch, tt.baseline)

			_, err := e.agg.RecomputeForUser(context.Background(), userID)
			require.NoError(t, err)

			p := e.participation(t, userID, ch.ID)
			assert.Equal(t, tt.wantProgress, p.CurrentProgress)
			assert.Equal(t, tt.wantCompleted, p.Completed)
			if tt.wantCompleted {
				assert.Equal(t, tt.wantXP, e.xp(t, userID))
			} else {
				assert.Equal(t, tt.profile.XP, e.xp(t, userID))
			}
		})
	}
}

func TestAggregator_RewardsOnlyOnce(t *testing.T) {
	e := newEnv(t)
	userID := e.user(t, models.Profile{TotalQuestsCompleted: 4, XP: 1900})
	ch := e.challenge(t, models.Challenge{TargetType: models.TargetQuests, TargetValue: 3, RewardXP: 200, RewardBadgeID: badge("early-bird")})
	e.join(t, userID, ch, models.Baseline{Quests: 1})

	report, err := e.agg.RecomputeForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, Report{Updated: 1, Completed: 1, Rewarded: 1}, report)

	profile, err := e.store.Profiles().Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2100), profile.XP)
	assert.Equal(t, 3, profile.Level)

	badges, err := e.store.Rewards().Badges(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, badges, 1)
	assert.Equal(t, "early-bird", badges[0].BadgeID)

	// Completed participations are no longer open.
	report, err = e.agg.RecomputeForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	assert.Equal(t, int64(2100), e.xp(t, userID))
}

func TestAggregator_SkipsEndedChallenges(t *testing.T) {
	e := newEnv(t)
	userID := e.user(t, models.Profile{TotalQuestsCompleted: 50})
	ch := e.challenge(t, models.Challenge{
		TargetType: models.TargetQuests, TargetValue: 1, RewardXP: 100,
		StartsAt: now.Add(-72 * time.Hour), EndsAt: now.Add(-time.Hour),
	})
	e.join(t, userID, ch, models.Baseline{})

	report, err := e.agg.RecomputeForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	assert.False(t, e.participation(t, userID, ch.ID).Completed)
	assert.Equal(t, int64(0), e.xp(t, userID))
}

// barrierStore holds every transaction until `parties` of them have been
// requested, so all racers read participation state before any writes.
type barrierStore struct {
	*memory.Store
	wg *sync.WaitGroup
}

func (b barrierStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	b.wg.Done()
	b.wg.Wait()
	return b.Store.InTx(ctx, fn)
}

func TestAggregator_ConcurrentRecomputeRewardsExactlyOnce(t *testing.T) {
	const racers = 2

	mem := memory.New()
	var barrier sync.WaitGroup
	barrier.Add(racers)
	s := barrierStore{Store: mem, wg: &barrier}
	granter := progression.NewService(s, nil, discard(), progression.Options{})
	agg := NewAggregator(s, granter, discard(), Options{Now: func() time.Time { return now }})
	e := &env{store: mem, agg: agg}

	userID := e.user(t, models.Profile{TotalQuestsCompleted: 5})
	ch := e.challenge(t, models.Challenge{TargetType: models.TargetQuests, TargetValue: 3, RewardXP: 500})
	e.join(t, userID, ch, models.Baseline{})

	reports := make([]Report, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := agg.RecomputeForUser(context.Background(), userID)
			assert.NoError(t, err)
			reports[i] = r
		}(i)
	}
	wg.Wait()

	rewarded := 0
	for _, r := range reports {
		assert.Equal(t, 1, r.Completed, "both racers observed the threshold")
		rewarded += r.Rewarded
	}
	assert.Equal(t, 1, rewarded)
	assert.Equal(t, int64(500), e.xp(t, userID))

	ledger, err := mem.Rewards().LedgerFor(context.Background(), ch.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)
}

func TestAggregator_Team(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	alice := e.user(t, models.Profile{TotalQuestsCompleted: 10, XP: 100})
	bob := e.user(t, models.Profile{TotalQuestsCompleted: 3, XP: 100})
	carol := e.user(t, models.Profile{TotalQuestsCompleted: 40, XP: 100})

	team := &models.Team{ID: uuid.New(), Name: "Early Risers"}
	require.NoError(t, e.store.Teams().Create(ctx, team))
	for _, id := range []uuid.UUID{alice, bob, carol} {
		require.NoError(t, e.store.Teams().AddMember(ctx, &models.TeamMember{TeamID: team.ID, UserID: id, JoinedAt: now}))
	}

	ch := e.challenge(t, models.Challenge{TargetType: models.TargetQuests, TargetValue: 6, IsTeam: true, RewardXP: 250})
	tp := &models.TeamChallengeProgress{
		ID:          uuid.New(),
		TeamID:      team.ID,
		ChallengeID: ch.ID,
		BaselineData: map[string]models.Baseline{
			alice.String(): {Quests: 7},
			bob.String():   {Quests: 1},
			// carol has no baseline yet and is captured on the first pass.
		},
		JoinedAt: now.Add(-time.Hour),
	}
	require.NoError(t, e.store.Challenges().CreateTeamProgress(ctx, tp))

	report, err := e.agg.RecomputeForUser(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, Report{Updated: 1}, report)

	got, err := e.store.Challenges().GetTeamProgress(ctx, team.ID, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.CurrentProgress)
	assert.Equal(t, models.Baseline{Quests: 40, XP: 100}, got.BaselineData[carol.String()])

	// carol completes one more quest and pushes the team over the line.
	p, err := e.store.Profiles().Get(ctx, carol)
	require.NoError(t, err)
	p.TotalQuestsCompleted++
	require.NoError(t, e.store.Profiles().Update(ctx, p))

	report, err = e.agg.RecomputeForUser(ctx, carol)
	require.NoError(t, err)
	assert.Equal(t, Report{Updated: 1, Completed: 1, Rewarded: 3}, report)

	for _, id := range []uuid.UUID{alice, bob, carol} {
		assert.Equal(t, int64(350), e.xp(t, id))
	}

	ledger, err := e.store.Rewards().LedgerFor(ctx, ch.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, 4, "one team entry and one per member")

	report, err = e.agg.RecomputeForUser(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

type recordingGranter struct {
	Granter
	mu    sync.Mutex
	order []uuid.UUID
}

func (g *recordingGranter) GrantXP(ctx context.Context, tx store.Tx, userID uuid.UUID, amount int64) (*models.Profile, error) {
	g.mu.Lock()
	g.order = append(g.order, userID)
	g.mu.Unlock()
	return g.Granter.GrantXP(ctx, tx, userID, amount)
}

func TestAggregator_TeamGrantsInUserIDOrder(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	granter := &recordingGranter{Granter: progression.NewService(s, nil, discard(), progression.Options{})}
	e := &env{store: s, agg: NewAggregator(s, granter, discard(), Options{Now: func() time.Time { return now }})}

	team := &models.Team{ID: uuid.New(), Name: "Lantern Club"}
	require.NoError(t, s.Teams().Create(ctx, team))
	baselines := map[string]models.Baseline{}
	var first uuid.UUID
	for i := 0; i < 6; i++ {
		id := e.user(t, models.Profile{TotalQuestsCompleted: 2})
		if i == 0 {
			first = id
		}
		baselines[id.String()] = models.Baseline{}
		require.NoError(t, s.Teams().AddMember(ctx, &models.TeamMember{
			TeamID: team.ID, UserID: id, JoinedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	ch := e.challenge(t, models.Challenge{TargetType: models.TargetQuests, TargetValue: 12, IsTeam: true, RewardXP: 50})
	require.NoError(t, s.Challenges().CreateTeamProgress(ctx, &models.TeamChallengeProgress{
		ID:           uuid.New(),
		TeamID:       team.ID,
		ChallengeID:  ch.ID,
		BaselineData: baselines,
		JoinedAt:     now.Add(-time.Hour),
	}))

	report, err := e.agg.RecomputeForUser(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Rewarded)

	require.Len(t, granter.order, 6)
	assert.True(t, slices.IsSortedFunc(granter.order, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	}), "grants follow user_id order")
}

func TestAggregator_ChallengeCache(t *testing.T) {
	e := newEnv(t)
	userID := e.user(t, models.Profile{TotalQuestsCompleted: 1})
	ch := e.challenge(t, models.Challenge{TargetType: models.TargetQuests, TargetValue: 100})
	e.join(t, userID, ch, models.Baseline{})

	_, err := e.agg.RecomputeForUser(context.Background(), userID)
	require.NoError(t, err)

	cached, ok := e.agg.cache.Get(ch.ID)
	require.True(t, ok)
	assert.Equal(t, ch.ID, cached.(cachedChallenge).challenge.ID)
}

func TestReconciler_Sweep(t *testing.T) {
	e := newEnv(t)

	ch := e.challenge(t, models.Challenge{TargetType: models.TargetQuests, TargetValue: 2, RewardXP: 10})
	ended := e.challenge(t, models.Challenge{TargetType: models.TargetQuests, TargetValue: 2, EndsAt: now.Add(-time.Minute), StartsAt: now.Add(-time.Hour)})

	done := e.user(t, models.Profile{TotalQuestsCompleted: 5})
	pending := e.user(t, models.Profile{TotalQuestsCompleted: 1})
	stale := e.user(t, models.Profile{TotalQuestsCompleted: 9})
	e.join(t, done, ch, models.Baseline{})
	e.join(t, pending, ch, models.Baseline{})
	e.join(t, stale, ended, models.Baseline{})

	r := NewReconciler(e.store, e.agg, discard(), 2)
	result, err := r.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Users, "users in ended challenges are not swept")
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, result.Report.Completed)
	assert.Equal(t, 1, result.Report.Rewarded)
	assert.True(t, e.participation(t, done, ch.ID).Completed)
	assert.Equal(t, int64(1), e.participation(t, pending, ch.ID).CurrentProgress)
}

func TestTask_Run(t *testing.T) {
	e := newEnv(t)
	userID := e.user(t, models.Profile{TotalQuestsCompleted: 3})
	ch := e.challenge(t, models.Challenge{TargetType: models.TargetQuests, TargetValue: 3, RewardXP: 40})
	e.join(t, userID, ch, models.Baseline{})

	task := NewTask(e.agg)
	assert.Equal(t, TaskName, task.Name())
	require.NoError(t, task.Run(context.Background(), &models.TaskRun{ID: uuid.New(), UserID: userID}))
	assert.True(t, e.participation(t, userID, ch.ID).Completed)

	err := task.Run(context.Background(), &models.TaskRun{ID: uuid.New(), UserID: uuid.New()})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
