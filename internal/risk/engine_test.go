package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScore_AllKnownSignalsIsLow(t *testing.T) {
	f := Factors{
		CurrentLocation:   "US-AS1234",
		KnownLocations:    []string{"US-AS1234"},
		DeviceFingerprint: "dev-1",
		KnownDevices:      []string{"dev-1"},
		RecentAttempts:    5,
		RecentFailures:    0,
		Hour:              14,
		TypicalHours:      []int{13, 14, 15},
		SecondsSinceLast:  30,
		NetworkReputation: 0,
	}
	r := Score(f)
	require.Equal(t, LevelLow, r.Level)
	require.False(t, r.RequiresMFA)
	require.True(t, r.AllowAccess)
}

func TestScore_UnknownDeviceAndLocationRequiresMFA(t *testing.T) {
	f := Factors{
		CurrentLocation:   "RU-AS999",
		KnownLocations:    []string{"US-AS1234"},
		DeviceFingerprint: "dev-new",
		KnownDevices:      []string{"dev-1"},
		RecentAttempts:    1,
	}
	r := Score(f)
	require.GreaterOrEqual(t, r.Score, MFAThreshold)
	require.True(t, r.RequiresMFA)
	require.True(t, r.AllowAccess)
}

func TestScore_HighFailureRatioAndBadReputationBlocks(t *testing.T) {
	f := Factors{
		CurrentLocation:   "RU-AS999",
		DeviceFingerprint: "dev-new",
		RecentAttempts:    10,
		RecentFailures:    10,
		NetworkReputation: 1,
	}
	r := Score(f)
	require.GreaterOrEqual(t, r.Score, BlockThreshold)
	require.Equal(t, LevelCritical, r.Level)
	require.False(t, r.AllowAccess)
}

func TestScore_SuperhumanRetryCadenceAddsTemporalRisk(t *testing.T) {
	base := Factors{
		CurrentLocation:   "US-AS1234",
		KnownLocations:    []string{"US-AS1234"},
		DeviceFingerprint: "dev-1",
		KnownDevices:      []string{"dev-1"},
	}
	slow := base
	slow.SecondsSinceLast = 30
	fast := base
	fast.SecondsSinceLast = 0.5

	require.Greater(t, Score(fast).Score, Score(slow).Score)
}

func TestScore_NeverExceedsHundredOrGoesNegative(t *testing.T) {
	f := Factors{
		CurrentLocation:   "RU-AS999",
		DeviceFingerprint: "dev-new",
		RecentAttempts:    3,
		RecentFailures:    3,
		NetworkReputation: 5, // out-of-range input, must clamp
		Hour:              3,
		TypicalHours:      []int{9, 10, 11},
		SecondsSinceLast:  0.1,
	}
	r := Score(f)
	require.LessOrEqual(t, r.Score, 100.0)
	require.GreaterOrEqual(t, r.Score, 0.0)
}

func TestFallback_RequiresNoMFAButStaysMedium(t *testing.T) {
	r := Fallback()
	require.Equal(t, LevelMedium, r.Level)
	require.False(t, r.RequiresMFA)
	require.True(t, r.AllowAccess)
}

func TestDurationSince_ZeroTimeIsTreatedAsNoHistory(t *testing.T) {
	require.Equal(t, -1.0, DurationSince(time.Time{}, time.Now()))
}

func TestDurationSince_ComputesElapsedSeconds(t *testing.T) {
	last := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := last.Add(90 * time.Second)
	require.Equal(t, 90.0, DurationSince(last, now))
}
