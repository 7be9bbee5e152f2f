package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestTransition(t *testing.T) {
	now := time.Date(2024, 5, 20, 15, 30, 0, 0, time.UTC)
	oldLoss := now.Add(-72 * time.Hour)
	oldCount := 7

	tests := []struct {
		name          string
		in            Input
		wantState     State
		wantStreak    int
		wantFreeze    bool
		wantLostCount *int
		wantLostAt    *time.Time
	}{
		{
			name:       "first completion",
			in:         Input{Now: now, LostAt: &oldLoss, LostCount: &oldCount},
			wantState:  NoHistory,
			wantStreak: 1,
		},
		{
			name:       "continued from yesterday clears snapshot",
			in:         Input{LastQuestDate: date(2024, 5, 19), Now: now, PriorStreak: 5, LostAt: &oldLoss, LostCount: &oldCount},
			wantState:  ContinuedYesterday,
			wantStreak: 6,
		},
		{
			name:       "continued ignores an unused freeze",
			in:         Input{LastQuestDate: date(2024, 5, 19), Now: now, PriorStreak: 2, FreezeActive: true},
			wantState:  ContinuedYesterday,
			wantStreak: 3,
		},
		{
			name:          "same day keeps streak and snapshot",
			in:            Input{LastQuestDate: date(2024, 5, 20), Now: now, PriorStreak: 4, LostAt: &oldLoss, LostCount: &oldCount},
			wantState:     SameDayRepeat,
			wantStreak:    4,
			wantLostAt:    &oldLoss,
			wantLostCount: &oldCount,
		},
		{
			name:       "same day never drops below one",
			in:         Input{LastQuestDate: date(2024, 5, 20), Now: now},
			wantState:  SameDayRepeat,
			wantStreak: 1,
		},
		{
			name:       "freeze protects a broken streak",
			in:         Input{LastQuestDate: date(2024, 5, 17), Now: now, PriorStreak: 10, FreezeActive: true, LostAt: &oldLoss, LostCount: &oldCount},
			wantState:  FrozenProtected,
			wantStreak: 11,
			wantFreeze: true,
		},
		{
			name:          "break snapshots the lost streak",
			in:            Input{LastQuestDate: date(2024, 5, 17), Now: now, PriorStreak: 10},
			wantState:     Broken,
			wantStreak:    1,
			wantLostAt:    &now,
			wantLostCount: func() *int { n := 10; return &n }(),
		},
		{
			name:       "break of a one day streak snapshots nothing",
			in:         Input{LastQuestDate: date(2024, 5, 1), Now: now, PriorStreak: 1, LostAt: &oldLoss, LostCount: &oldCount},
			wantState:  Broken,
			wantStreak: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transition(tt.in)
			assert.Equal(t, tt.wantState, got.State)
			assert.Equal(t, tt.wantStreak, got.Streak)
			assert.Equal(t, tt.wantFreeze, got.FreezeConsumed)
			assert.Equal(t, *date(2024, 5, 20), got.Today)
			if tt.wantLostAt == nil {
				assert.Nil(t, got.LostAt)
				assert.Nil(t, got.LostCount)
				return
			}
			require.NotNil(t, got.LostAt)
			require.NotNil(t, got.LostCount)
			assert.True(t, tt.wantLostAt.Equal(*got.LostAt))
			assert.Equal(t, *tt.wantLostCount, *got.LostCount)
		})
	}
}

func TestTransition_Timezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 23:30 UTC on May 19 is already May 20 in Tokyo.
	now := time.Date(2024, 5, 19, 23, 30, 0, 0, time.UTC)
	in := Input{LastQuestDate: date(2024, 5, 19), Now: now, PriorStreak: 3, Location: tokyo}

	got := Transition(in)
	assert.Equal(t, ContinuedYesterday, got.State)
	assert.Equal(t, 4, got.Streak)
	assert.Equal(t, *date(2024, 5, 20), got.Today)

	in.Location = time.UTC
	assert.Equal(t, SameDayRepeat, Transition(in).State)
}

func TestTransition_FreezeIsOneShot(t *testing.T) {
	now := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)
	first := Transition(Input{LastQuestDate: date(2024, 5, 15), Now: now, PriorStreak: 8, FreezeActive: true})
	require.Equal(t, FrozenProtected, first.State)
	require.True(t, first.FreezeConsumed)

	later := now.AddDate(0, 0, 3)
	second := Transition(Input{LastQuestDate: &first.Today, Now: later, PriorStreak: first.Streak, FreezeActive: false})
	assert.Equal(t, Broken, second.State)
	assert.Equal(t, 1, second.Streak)
	require.NotNil(t, second.LostCount)
	assert.Equal(t, 9, *second.LostCount)
}
