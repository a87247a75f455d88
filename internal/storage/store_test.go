package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"castbot/pkg/logx"

	"github.com/stretchr/testify/require"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	require.ErrorContains(t, err, "unknown storage driver")
}

func TestOpenFileRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestAuditRoundTrip(t *testing.T) {
	t.Parallel()
	drivers := []struct {
		name string
		file string
	}{
		{"file", "audit.log"},
		{"sqlite", "audit.db"},
	}
	for _, d := range drivers {
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			req := require.New(t)
			ctx := context.Background()

			// Given a fresh store
			st, err := Open(Config{Driver: d.name, Path: filepath.Join(t.TempDir(), d.file), BusyTimeout: time.Second}, logx.Nop())
			req.NoError(err)
			req.NotNil(st)
			t.Cleanup(func() { _ = st.Close() })

			// When entries for two chats are appended
			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			for i := 0; i < 4; i++ {
				req.NoError(st.AppendAudit(ctx, AuditEntry{
					At:        base.Add(time.Duration(i) * time.Minute),
					RunID:     "run-" + string(rune('a'+i)),
					ChatID:    -100,
					State:     "completed",
					Total:     3,
					Sent:      2,
					Failed:    1,
					FailedIDs: []int64{int64(i)},
					TookMS:    1500,
				}))
			}
			req.NoError(st.AppendAudit(ctx, AuditEntry{At: base, RunID: "other", ChatID: -200, State: "cancelled"}))

			// Then RecentAudit returns only that chat, newest first, capped
			got, err := st.RecentAudit(ctx, -100, 3)
			req.NoError(err)
			req.Len(got, 3)
			req.Equal("run-d", got[0].RunID)
			req.Equal("run-b", got[2].RunID)
			req.Equal([]int64{3}, got[0].FailedIDs)
			req.True(got[0].At.Equal(base.Add(3 * time.Minute)))
			req.Equal(2, got[0].Sent)

			other, err := st.RecentAudit(ctx, -200, 10)
			req.NoError(err)
			req.Len(other, 1)
			req.Empty(other[0].FailedIDs)
		})
	}
}
