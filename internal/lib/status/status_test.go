package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr(t time.Time) *time.Time { return &t }

func TestDetermine(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	trialStart := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name           string
		trialStartedAt *time.Time
		expiresAt      *time.Time
		now            time.Time
		want           Account
	}{
		{
			name: "no history at all",
			now:  now,
			want: Inactive,
		},
		{
			name:      "active subscription",
			expiresAt: ptr(now.Add(24 * time.Hour)),
			now:       now,
			want:      Pro,
		},
		{
			name:           "active subscription wins over finished trial",
			trialStartedAt: ptr(now.AddDate(0, -2, 0)),
			expiresAt:      ptr(now.Add(time.Minute)),
			now:            now,
			want:           Pro,
		},
		{
			name:      "subscription expiring exactly now is expired",
			expiresAt: ptr(now),
			now:       now,
			want:      Expired,
		},
		{
			name:           "inside trial window",
			trialStartedAt: ptr(trialStart),
			now:            now,
			want:           Trial,
		},
		{
			name:           "first instant of trial",
			trialStartedAt: ptr(trialStart),
			now:            trialStart,
			want:           Trial,
		},
		{
			name:           "six days 23 hours into trial",
			trialStartedAt: ptr(trialStart),
			now:            trialStart.AddDate(0, 0, 6).Add(23 * time.Hour),
			want:           Trial,
		},
		{
			name:           "exactly seven days after trial start",
			trialStartedAt: ptr(trialStart),
			now:            trialStart.AddDate(0, 0, 7),
			want:           Expired,
		},
		{
			name:      "subscription in the past",
			expiresAt: ptr(now.AddDate(0, -1, 0)),
			now:       now,
			want:      Expired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Determine(tt.trialStartedAt, tt.expiresAt, tt.now, DefaultTrialDays)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetermine_ProForAnyNow(t *testing.T) {
	expiresAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, now := range []time.Time{
		expiresAt.Add(-time.Nanosecond),
		expiresAt.AddDate(0, -6, 0),
		expiresAt.AddDate(-1, 0, 0),
	} {
		got := Determine(nil, &expiresAt, now, DefaultTrialDays)
		assert.Equal(t, Pro, got, "now=%s", now)
	}
}

func TestTrialEnd(t *testing.T) {
	start := time.Date(2025, 2, 26, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC), TrialEnd(start, 7))
	assert.Equal(t, time.Date(2025, 2, 27, 8, 0, 0, 0, time.UTC), TrialEnd(start, 1))
}

func TestIsSubscriptionActive(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	assert.False(t, IsSubscriptionActive(nil, now))
	assert.False(t, IsSubscriptionActive(ptr(now), now), "strict inequality at the boundary")
	assert.False(t, IsSubscriptionActive(ptr(now.Add(-time.Second)), now))
	assert.True(t, IsSubscriptionActive(ptr(now.Add(time.Second)), now))
}
