package progression

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/progression/mock"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/domain/streak"
	"github.com/questline/progression/internal/gateways/database/models"
	"github.com/questline/progression/internal/gateways/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const reflection = "Walked for thirty minutes before work."

var (
	fixedNow  = time.Date(2024, 6, 12, 18, 0, 0, 0, time.UTC)
	today     = time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC)
	yesterday = today.AddDate(0, 0, -1)
	testTasks = []string{"challenge_progress", "analytics"}
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store   *memory.Store
	service *Service
	userID  uuid.UUID
}

func newFixture(t *testing.T, profile models.Profile, dispatcher Dispatcher) *fixture {
	t.Helper()
	s := memory.New()
	profile.ID = uuid.New()
	require.NoError(t, s.Profiles().Create(context.Background(), &profile))

	return &fixture{
		store:  s,
		userID: profile.ID,
		service: NewService(s, dispatcher, discard(), Options{
			Tasks: testTasks,
			Now:   func() time.Time { return fixedNow },
		}),
	}
}

func (f *fixture) newLog(t *testing.T, owner uuid.UUID) uuid.UUID {
	t.Helper()
	entry := &models.QuestLog{UserID: owner, QuestID: "walk", Title: "Take a walk", AssignedFor: today}
	require.NoError(t, f.store.QuestLogs().Create(context.Background(), entry))
	return entry.ID
}

func (f *fixture) profile(t *testing.T) *models.Profile {
	t.Helper()
	p, err := f.store.Profiles().Get(context.Background(), f.userID)
	require.NoError(t, err)
	return p
}

func at(t time.Time) *time.Time { return &t }

func acceptAll(t *testing.T) Dispatcher {
	d := mock.NewMockDispatcher(gomock.NewController(t))
	d.EXPECT().Submit(gomock.Any()).AnyTimes()
	return d
}

func TestService_CompleteQuest_Scenarios(t *testing.T) {
	tests := []struct {
		name        string
		profile     models.Profile
		golden      bool
		wantAward   int64
		wantStreak  int
		wantXP      int64
		wantLevel   int
		wantState   streak.State
		wantBooster bool
		check       func(t *testing.T, p *models.Profile)
	}{
		{
			name:       "continued streak",
			profile:    models.Profile{Level: 1, Streak: 5, LastQuestDate: at(yesterday)},
			wantAward:  310,
			wantStreak: 6,
			wantXP:     310,
			wantLevel:  1,
			wantState:  streak.ContinuedYesterday,
		},
		{
			name: "active booster doubles",
			profile: models.Profile{Level: 1, Streak: 5, LastQuestDate: at(yesterday),
				XPBoosterActive: true, XPBoosterExpiresAt: at(fixedNow.Add(time.Hour))},
			wantAward:   620,
			wantStreak:  6,
			wantXP:      620,
			wantLevel:   1,
			wantState:   streak.ContinuedYesterday,
			wantBooster: true,
			check: func(t *testing.T, p *models.Profile) {
				assert.True(t, p.XPBoosterActive, "booster stays for its window")
			},
		},
		{
			name: "expired booster is cleared in the same write",
			profile: models.Profile{Level: 1, Streak: 5, LastQuestDate: at(yesterday),
				XPBoosterActive: true, XPBoosterExpiresAt: at(fixedNow.Add(-time.Minute))},
			wantAward:  310,
			wantStreak: 6,
			wantXP:     310,
			wantLevel:  1,
			wantState:  streak.ContinuedYesterday,
			check: func(t *testing.T, p *models.Profile) {
				assert.False(t, p.XPBoosterActive)
				assert.Nil(t, p.XPBoosterExpiresAt)
			},
		},
		{
			name:       "broken streak snapshots the loss",
			profile:    models.Profile{Level: 1, Streak: 10, LastQuestDate: at(today.AddDate(0, 0, -3))},
			wantAward:  260,
			wantStreak: 1,
			wantXP:     260,
			wantLevel:  1,
			wantState:  streak.Broken,
			check: func(t *testing.T, p *models.Profile) {
				require.NotNil(t, p.LastStreakCount)
				assert.Equal(t, 10, *p.LastStreakCount)
				require.NotNil(t, p.StreakLostAt)
				assert.True(t, fixedNow.Equal(*p.StreakLostAt))
			},
		},
		{
			name: "freeze protects and is consumed",
			profile: models.Profile{Level: 1, Streak: 10, LastQuestDate: at(today.AddDate(0, 0, -3)),
				StreakFreezeActive: true, StreakFreezeExpiresAt: at(fixedNow.Add(48 * time.Hour))},
			wantAward:  360,
			wantStreak: 11,
			wantXP:     360,
			wantLevel:  1,
			wantState:  streak.FrozenProtected,
			check: func(t *testing.T, p *models.Profile) {
				assert.False(t, p.StreakFreezeActive)
				assert.Nil(t, p.StreakFreezeExpiresAt)
				assert.Nil(t, p.StreakLostAt)
			},
		},
		{
			name: "expired freeze does not protect",
			profile: models.Profile{Level: 1, Streak: 4, LastQuestDate: at(today.AddDate(0, 0, -2)),
				StreakFreezeActive: true, StreakFreezeExpiresAt: at(fixedNow.Add(-time.Hour))},
			wantAward:  260,
			wantStreak: 1,
			wantXP:     260,
			wantLevel:  1,
			wantState:  streak.Broken,
			check: func(t *testing.T, p *models.Profile) {
				assert.False(t, p.StreakFreezeActive)
				require.NotNil(t, p.LastStreakCount)
				assert.Equal(t, 4, *p.LastStreakCount)
			},
		},
		{
			name: "booster and golden stack",
			profile: models.Profile{XP: 900, Level: 1, Streak: 5, LastQuestDate: at(yesterday),
				XPBoosterActive: true, XPBoosterExpiresAt: at(fixedNow.Add(time.Hour))},
			golden:      true,
			wantAward:   1860,
			wantStreak:  6,
			wantXP:      2760,
			wantLevel:   3,
			wantState:   streak.ContinuedYesterday,
			wantBooster: true,
		},
		{
			name:       "first quest ever",
			profile:    models.Profile{Level: 1},
			wantAward:  260,
			wantStreak: 1,
			wantXP:     260,
			wantLevel:  1,
			wantState:  streak.NoHistory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.profile, acceptAll(t))
			logID := f.newLog(t, f.userID)

			got, err := f.service.CompleteQuest(context.Background(), CompleteRequest{
				UserID: f.userID, LogID: logID, Reflection: reflection, Golden: tt.golden,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantAward, got.XPAwarded)
			assert.Equal(t, tt.wantStreak, got.Streak)
			assert.Equal(t, tt.wantXP, got.TotalXP)
			assert.Equal(t, tt.wantLevel, got.Level)
			assert.Equal(t, tt.wantState, got.StreakState)
			assert.Equal(t, tt.wantBooster, got.XPBoosterApplied)

			p := f.profile(t)
			assert.Equal(t, tt.wantXP, p.XP)
			assert.Equal(t, tt.wantLevel, p.Level)
			assert.Equal(t, tt.wantStreak, p.Streak)
			assert.Equal(t, 1, p.TotalQuestsCompleted)
			require.NotNil(t, p.LastQuestDate)
			assert.Equal(t, today, *p.LastQuestDate)
			if tt.check != nil {
				tt.check(t, p)
			}

			entry, err := f.store.QuestLogs().Get(context.Background(), logID)
			require.NoError(t, err)
			require.NotNil(t, entry.CompletedAt)
			require.NotNil(t, entry.XPAwarded)
			assert.Equal(t, tt.wantAward, *entry.XPAwarded)
			assert.Equal(t, reflection, *entry.ReflectionText)
		})
	}
}

func TestService_CompleteQuest_Preconditions(t *testing.T) {
	f := newFixture(t, models.Profile{Level: 1}, acceptAll(t))
	ctx := context.Background()

	stranger := uuid.New()
	foreignLog := f.newLog(t, stranger)
	ownLog := f.newLog(t, f.userID)

	tests := []struct {
		name       string
		req        CompleteRequest
		wantErr    error
		notWantErr error
	}{
		{
			name:    "unknown log",
			req:     CompleteRequest{UserID: f.userID, LogID: uuid.New(), Reflection: reflection},
			wantErr: ErrNotFound,
		},
		{
			name:    "foreign log is reported as missing before validation",
			req:     CompleteRequest{UserID: f.userID, LogID: foreignLog, Reflection: "short"},
			wantErr: store.ErrNotFound,
		},
		{
			name:    "reflection too short",
			req:     CompleteRequest{UserID: f.userID, LogID: ownLog, Reflection: "too short"},
			wantErr: ErrValidation,
		},
		{
			name:    "padding does not count",
			req:     CompleteRequest{UserID: f.userID, LogID: ownLog, Reflection: "   tiny      text   "},
			wantErr: ErrValidation,
		},
		{
			name:    "reflection too long",
			req:     CompleteRequest{UserID: f.userID, LogID: ownLog, Reflection: strings.Repeat("a", MaxReflectionLength+1)},
			wantErr: ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CompleteQuest(ctx, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	p := f.profile(t)
	assert.Equal(t, int64(0), p.XP)
	assert.Equal(t, 0, p.TotalQuestsCompleted)
}

func TestService_CompleteQuest_MultibyteReflection(t *testing.T) {
	f := newFixture(t, models.Profile{Level: 1}, acceptAll(t))
	logID := f.newLog(t, f.userID)

	// 15 runes, 45 bytes.
	_, err := f.service.CompleteQuest(context.Background(), CompleteRequest{
		UserID: f.userID, LogID: logID, Reflection: strings.Repeat("日", 15),
	})
	assert.NoError(t, err)
}

func TestService_CompleteQuest_WriteOnce(t *testing.T) {
	f := newFixture(t, models.Profile{Level: 1, Streak: 2, LastQuestDate: at(yesterday)}, acceptAll(t))
	logID := f.newLog(t, f.userID)
	req := CompleteRequest{UserID: f.userID, LogID: logID, Reflection: reflection}

	first, err := f.service.CompleteQuest(context.Background(), req)
	require.NoError(t, err)

	_, err = f.service.CompleteQuest(context.Background(), req)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	// Validation still runs before the completed check.
	req.Reflection = "nope"
	_, err = f.service.CompleteQuest(context.Background(), req)
	assert.ErrorIs(t, err, ErrValidation)

	p := f.profile(t)
	assert.Equal(t, first.TotalXP, p.XP)
	assert.Equal(t, 1, p.TotalQuestsCompleted)
	assert.Equal(t, 3, p.Streak)
}

func TestService_CompleteQuest_ConcurrentSameLog(t *testing.T) {
	f := newFixture(t, models.Profile{Level: 1}, acceptAll(t))
	logID := f.newLog(t, f.userID)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.CompleteQuest(context.Background(), CompleteRequest{
				UserID: f.userID, LogID: logID, Reflection: reflection,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyCompleted):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, rejected)
	p := f.profile(t)
	assert.Equal(t, int64(260), p.XP)
	assert.Equal(t, 1, p.TotalQuestsCompleted)
}

func TestService_CompleteQuest_FanoutHandoff(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mock.NewMockDispatcher(ctrl)
	f := newFixture(t, models.Profile{Level: 1, Streak: 5, LastQuestDate: at(yesterday)}, d)
	logID := f.newLog(t, f.userID)

	var submitted []*models.TaskRun
	d.EXPECT().Submit(gomock.Len(len(testTasks))).Do(func(runs []*models.TaskRun) {
		submitted = runs
	}).Times(1)

	got, err := f.service.CompleteQuest(context.Background(), CompleteRequest{
		UserID: f.userID, LogID: logID, Reflection: reflection, Golden: true,
	})
	require.NoError(t, err)
	require.Len(t, got.TaskRunIDs, len(testTasks))

	for i, run := range submitted {
		assert.Equal(t, testTasks[i], run.TaskName)
		assert.Equal(t, f.userID, run.UserID)
		assert.Equal(t, logID, run.Payload.LogID)
		assert.Equal(t, got.XPAwarded, run.Payload.XPAwarded)
		assert.True(t, run.Payload.Golden)
		assert.Equal(t, 1, run.Payload.TotalQuests)

		stored, err := f.store.Tasks().Get(context.Background(), run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusPending, stored.Status)
	}
}

func TestService_CompleteQuest_NoHandoffOnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mock.NewMockDispatcher(ctrl)
	d.EXPECT().Submit(gomock.Any()).Times(0)

	f := newFixture(t, models.Profile{Level: 1}, d)
	_, err := f.service.CompleteQuest(context.Background(), CompleteRequest{
		UserID: f.userID, LogID: uuid.New(), Reflection: reflection,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

// failingTasks makes the outbox insert fail inside the transaction.
type failingTasks struct {
	store.TaskRunRepository
}

func (failingTasks) CreateBatch(context.Context, []*models.TaskRun) error {
	return errors.New("disk full")
}

type failingTx struct{ store.Tx }

func (t failingTx) Tasks() store.TaskRunRepository { return failingTasks{t.Tx.Tasks()} }

type failingStore struct{ *memory.Store }

func (s failingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, failingTx{tx})
	})
}

func TestService_CompleteQuest_RollsBackBothWrites(t *testing.T) {
	f := newFixture(t, models.Profile{Level: 1, Streak: 3, LastQuestDate: at(yesterday)}, acceptAll(t))
	logID := f.newLog(t, f.userID)
	svc := NewService(failingStore{f.store}, acceptAll(t), discard(), Options{
		Tasks: testTasks,
		Now:   func() time.Time { return fixedNow },
	})

	_, err := svc.CompleteQuest(context.Background(), CompleteRequest{UserID: f.userID, LogID: logID, Reflection: reflection})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "enqueue fan-out", perr.Op)

	entry, err := f.store.QuestLogs().Get(context.Background(), logID)
	require.NoError(t, err)
	assert.Nil(t, entry.CompletedAt)
	assert.Nil(t, entry.XPAwarded)

	p := f.profile(t)
	assert.Equal(t, int64(0), p.XP)
	assert.Equal(t, 3, p.Streak)
	assert.Equal(t, 0, p.TotalQuestsCompleted)
}

func TestService_GrantXP(t *testing.T) {
	f := newFixture(t, models.Profile{XP: 950, Level: 1}, acceptAll(t))

	err := f.store.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		p, err := f.service.GrantXP(ctx, tx, f.userID, 100)
		require.NoError(t, err)
		assert.Equal(t, 2, p.Level)
		return nil
	})
	require.NoError(t, err)

	p := f.profile(t)
	assert.Equal(t, int64(1050), p.XP)
	assert.Equal(t, 2, p.Level)
}
