package modifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Second)

	tests := []struct {
		name      string
		active    bool
		expiresAt *time.Time
		want      Result
	}{
		{name: "inactive with no window", active: false, expiresAt: nil, want: Result{}},
		{name: "inactive with stale window is left alone", active: false, expiresAt: &past, want: Result{}},
		{name: "active inside window", active: true, expiresAt: &future, want: Result{Active: true}},
		{name: "active past window", active: true, expiresAt: &past, want: Result{Expired: true}},
		{name: "expiry instant counts as expired", active: true, expiresAt: &now, want: Result{Expired: true}},
		{name: "active without expiry", active: true, expiresAt: nil, want: Result{Expired: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.active, tt.expiresAt, now))
		})
	}
}

func TestResult_Apply(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)

	active := true
	expiresAt := &past
	Evaluate(active, expiresAt, now).Apply(&active, &expiresAt)
	assert.False(t, active)
	assert.Nil(t, expiresAt)

	future := now.Add(time.Minute)
	active = true
	expiresAt = &future
	Evaluate(active, expiresAt, now).Apply(&active, &expiresAt)
	assert.True(t, active, "live effect untouched")
	assert.Equal(t, &future, expiresAt)
}

func TestLazyExpiryIsVisibleUntilWritten(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)

	// Two readers of the same stored row before either writes it back.
	stored := struct {
		active    bool
		expiresAt *time.Time
	}{true, &past}

	first := Evaluate(stored.active, stored.expiresAt, now)
	second := Evaluate(stored.active, stored.expiresAt, now)
	assert.Equal(t, first, second)
	assert.True(t, stored.active, "evaluation never mutates the stored row")

	first.Apply(&stored.active, &stored.expiresAt)
	assert.Equal(t, Result{}, Evaluate(stored.active, stored.expiresAt, now))
}
