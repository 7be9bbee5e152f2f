package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := &models.Profile{Username: "rin", XP: 100}
	require.NoError(t, s.Profiles().Create(ctx, p))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.Profiles().GetForUpdate(ctx, p.ID)
		require.NoError(t, err)
		locked.XP = 9999
		require.NoError(t, tx.Profiles().Update(ctx, locked))
		require.NoError(t, tx.Tasks().CreateBatch(ctx, []*models.TaskRun{{TaskName: "analytics", UserID: p.ID}}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Profiles().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, got.XP)

	runs, err := s.Tasks().ListRunnable(ctx, time.Now(), 3, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStore_InTxCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := New().InTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRewards_InsertLedgerOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	userID, challengeID := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Rewards().InsertLedger(ctx, &models.RewardLedger{
				Kind:        models.LedgerKindUser,
				SubjectID:   userID,
				ChallengeID: challengeID,
				RewardXP:    50,
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	entries, err := s.Rewards().LedgerFor(ctx, challengeID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LedgerKindUser, entries[0].Kind)
	assert.Equal(t, userID, entries[0].SubjectID)

	ok, err := s.Rewards().InsertLedger(ctx, &models.RewardLedger{
		Kind:        models.LedgerKindTeam,
		SubjectID:   userID,
		ChallengeID: challengeID,
	})
	require.NoError(t, err)
	assert.True(t, ok, "a different kind is a different key")
}

func TestQuestLogs_MarkCompletedOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	l := &models.QuestLog{UserID: uuid.New(), QuestID: "walk", Title: "Take a walk"}
	require.NoError(t, s.QuestLogs().Create(ctx, l))

	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	ok, err := s.QuestLogs().MarkCompleted(ctx, l.ID, at, "first reflection text", 260)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.QuestLogs().MarkCompleted(ctx, l.ID, at.Add(time.Hour), "second reflection text", 999)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.QuestLogs().Get(ctx, l.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 260, *got.XPAwarded)
	assert.Equal(t, "first reflection text", *got.ReflectionText)
	assert.True(t, got.CompletedAt.Equal(at))
}

func TestTasks_ClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	run := &models.TaskRun{TaskName: "league_participation", UserID: uuid.New(), CreatedAt: now}
	require.NoError(t, s.Tasks().CreateBatch(ctx, []*models.TaskRun{run}))

	stale := now.Add(-10 * time.Minute)
	ok, err := s.Tasks().Claim(ctx, run.ID, now, stale, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Tasks().Claim(ctx, run.ID, now, stale, 2)
	require.NoError(t, err)
	assert.False(t, ok, "running and not stale")

	later := now.Add(time.Hour)
	ok, err = s.Tasks().Claim(ctx, run.ID, later, later.Add(-10*time.Minute), 2)
	require.NoError(t, err)
	assert.True(t, ok, "stale run reclaimed")

	ok, err = s.Tasks().Claim(ctx, run.ID, later.Add(time.Hour), later.Add(time.Hour), 2)
	require.NoError(t, err)
	assert.False(t, ok, "attempt limit reached")

	require.NoError(t, s.Tasks().Finish(ctx, run.ID, models.TaskStatusSucceeded, nil, later))
	got, err := s.Tasks().Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.True(t, got.Finished())

	assert.ErrorIs(t, s.Tasks().Finish(ctx, uuid.New(), models.TaskStatusFailed, nil, later), store.ErrNotFound)
}

func TestChallenges_SetMemberBaselineKeepsFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	userID := uuid.New()
	tp := &models.TeamChallengeProgress{TeamID: uuid.New(), ChallengeID: uuid.New()}
	require.NoError(t, s.Challenges().CreateTeamProgress(ctx, tp))

	require.NoError(t, s.Challenges().SetMemberBaseline(ctx, tp.ID, userID, models.Baseline{Quests: 3}))
	require.NoError(t, s.Challenges().SetMemberBaseline(ctx, tp.ID, userID, models.Baseline{Quests: 8}))

	got, err := s.Challenges().GetTeamProgress(ctx, tp.TeamID, tp.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.BaselineData[userID.String()].Quests)

	err = s.Challenges().CreateTeamProgress(ctx, &models.TeamChallengeProgress{TeamID: tp.TeamID, ChallengeID: tp.ChallengeID})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}
