package audit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardline/authcore/internal/domain"
)

// fakeForwarder is an in-memory DurableForwarder double: no Postgres needed
// to exercise Logger's forwarding contract.
type fakeForwarder struct {
	mu      sync.Mutex
	records []domain.AuditRecord
	err     error
}

func (f *fakeForwarder) Create(ctx context.Context, a *domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *a)
	return nil
}

func (f *fakeForwarder) snapshot() []domain.AuditRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AuditRecord, len(f.records))
	copy(out, f.records)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogger_RedactsSensitiveMetadataKeys(t *testing.T) {
	l := New(4, discardLogger(), nil)
	l.Log(context.Background(), Entry{
		EventType: "authentication.login.success",
		Actor:     "user:1",
		Metadata: map[string]any{
			"password":      "hunter2",
			"Authorization": "Bearer abc",
			"session_token": "xyz",
			"cookie":        "c=1",
			"secret_key":    "shh",
			"ip":            "203.0.113.5",
		},
	})

	recent := l.Recent()
	require.Len(t, recent, 1)
	meta := recent[0].Metadata
	require.Equal(t, redactedPlaceholder, meta["password"])
	require.Equal(t, redactedPlaceholder, meta["Authorization"])
	require.Equal(t, redactedPlaceholder, meta["session_token"])
	require.Equal(t, redactedPlaceholder, meta["cookie"])
	require.Equal(t, redactedPlaceholder, meta["secret_key"])
	require.Equal(t, "203.0.113.5", meta["ip"])
}

func TestLogger_AssignsIDAndTimestamp(t *testing.T) {
	l := New(4, discardLogger(), nil)
	before := time.Now().UTC()
	l.Log(context.Background(), Entry{EventType: "authentication.login.success", Actor: "user:1"})
	after := time.Now().UTC()

	recent := l.Recent()
	require.Len(t, recent, 1)
	require.NotEqual(t, recent[0].ID.String(), "00000000-0000-0000-0000-000000000000")
	require.False(t, recent[0].Timestamp.Before(before))
	require.False(t, recent[0].Timestamp.After(after))
}

func TestLogger_RecentOrdersOldestFirstBeforeWraparound(t *testing.T) {
	l := New(4, discardLogger(), nil)
	for i := 0; i < 3; i++ {
		l.Log(context.Background(), Entry{EventType: "e", Resource: string(rune('a' + i))})
	}

	recent := l.Recent()
	require.Len(t, recent, 3)
	require.Equal(t, "a", recent[0].Resource)
	require.Equal(t, "b", recent[1].Resource)
	require.Equal(t, "c", recent[2].Resource)
}

func TestLogger_RecentWrapsAroundRingBuffer(t *testing.T) {
	l := New(3, discardLogger(), nil)
	for i := 0; i < 5; i++ {
		l.Log(context.Background(), Entry{EventType: "e", Resource: string(rune('a' + i))})
	}

	recent := l.Recent()
	require.Len(t, recent, 3)
	require.Equal(t, []string{"c", "d", "e"}, []string{recent[0].Resource, recent[1].Resource, recent[2].Resource})
}

func TestLogger_ZeroCapacityDisablesRingBufferButStillForwards(t *testing.T) {
	fwd := &fakeForwarder{}
	l := New(0, discardLogger(), fwd)
	l.Log(context.Background(), Entry{EventType: "e", Actor: "user:1"})

	require.Nil(t, l.Recent())
	require.Eventually(t, func() bool {
		return len(fwd.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLogger_ForwardsRedactedRecordAsynchronously(t *testing.T) {
	fwd := &fakeForwarder{}
	l := New(4, discardLogger(), fwd)
	l.Log(context.Background(), Entry{
		EventType: "authentication.login.failure",
		Actor:     "user:1",
		Metadata:  map[string]any{"password": "hunter2"},
	})

	require.Eventually(t, func() bool {
		return len(fwd.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, redactedPlaceholder, fwd.snapshot()[0].Metadata["password"])
}

func TestLogger_ForwardFailureDoesNotPanicOrBlock(t *testing.T) {
	fwd := &fakeForwarder{err: context.DeadlineExceeded}
	l := New(4, discardLogger(), fwd)

	require.NotPanics(t, func() {
		l.Log(context.Background(), Entry{EventType: "e", Actor: "user:1"})
	})
	recent := l.Recent()
	require.Len(t, recent, 1)
}

func TestLogger_NilForwarderIsSkippedSafely(t *testing.T) {
	l := New(4, discardLogger(), nil)
	require.NotPanics(t, func() {
		l.Log(context.Background(), Entry{EventType: "e", Actor: "user:1"})
	})
}

func TestLogger_NilMetadataStaysNil(t *testing.T) {
	l := New(4, discardLogger(), nil)
	l.Log(context.Background(), Entry{EventType: "e", Actor: "user:1"})
	require.Nil(t, l.Recent()[0].Metadata)
}
