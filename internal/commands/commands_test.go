package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	"castbot/internal/transport/telegram/router"
	"castbot/pkg/logx"

	"github.com/stretchr/testify/require"
)

type recordingAdapter struct {
	sent []string
}

func (a *recordingAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *recordingAdapter) Stop(context.Context) error { return nil }

func (a *recordingAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.sent = append(a.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *recordingAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *recordingAdapter) CopyMessage(context.Context, kit.ChatTarget, kit.MessageRef) error {
	return nil
}

func (a *recordingAdapter) MemberRole(context.Context, int64, int64) (string, error) { return "", nil }

type fakeBroadcaster struct {
	admin     int64
	got       broadcast.Request
	res       broadcast.Result
	startErr  error
	cancelOK  bool
	cancelErr error
}

func (f *fakeBroadcaster) Start(_ context.Context, req broadcast.Request) (broadcast.Result, error) {
	f.got = req
	return f.res, f.startErr
}

func (f *fakeBroadcaster) Cancel(context.Context, broadcast.ScopeID, int64) (bool, error) {
	return f.cancelOK, f.cancelErr
}

func (f *fakeBroadcaster) Authorized(_ context.Context, _ broadcast.ScopeID, userID int64) bool {
	return userID == f.admin
}

type fakeAudit struct {
	entries []storage.AuditEntry
	limit   int
}

func (f *fakeAudit) RecentAudit(_ context.Context, _ int64, limit int) ([]storage.AuditEntry, error) {
	f.limit = limit
	return f.entries, nil
}

func newRequest(ad kit.Adapter, raw string, reply *kit.MessageRef) *router.Request {
	return &router.Request{
		Message: &kit.Message{ChatID: -100, ThreadID: 4, FromID: 42, ReplyTo: reply},
		Chat:    kit.ChatTarget{ChatID: -100, ThreadID: 4},
		FromID:  42,
		RawArgs: raw,
		Args:    []string{raw},
		Adapter: ad,
		Logger:  logx.Nop(),
	}
}

func handler(t *testing.T, s *Set, name string) router.HandlerFunc {
	t.Helper()
	for _, c := range s.Commands() {
		if c.Name == name {
			return c.Handle
		}
	}
	t.Fatalf("command %q not registered", name)
	return nil
}

func TestOnlyBroadcastIsDetached(t *testing.T) {
	t.Parallel()
	s := New(&fakeBroadcaster{}, nil, logx.Nop())
	for _, c := range s.Commands() {
		require.Equal(t, c.Name == "broadcast", c.Detached, c.Name)
		if c.Name == "broadcast" {
			require.Zero(t, c.Timeout)
		}
	}
}

func TestBroadcastBuildsRequestAndSendsSummary(t *testing.T) {
	req := require.New(t)
	bc := &fakeBroadcaster{admin: 42, res: broadcast.Result{
		State:   broadcast.StateCompleted,
		Total:   2,
		Outcome: broadcast.Outcome{Sent: []int64{1}, Failed: []int64{2}},
	}}
	ad := &recordingAdapter{}
	src := &kit.MessageRef{ChatID: -100, MessageID: 9}

	err := handler(t, New(bc, nil, logx.Nop()), "broadcast")(context.Background(), newRequest(ad, "1, 2", src))

	req.NoError(err)
	req.Equal(broadcast.Request{Scope: -100, Thread: 4, InitiatorID: 42, Source: src, RawRecipients: "1, 2"}, bc.got)
	req.Equal([]string{
		"📬 Broadcast completed!",
		"✅ Successfully sent to 1 users: 1",
		"❌ Failed to send to 1 users: 2",
	}, ad.sent)
}

func TestBroadcastRepliesWithRejection(t *testing.T) {
	bc := &fakeBroadcaster{startErr: &broadcast.AdmissionError{Reason: broadcast.ReasonNoSource}}
	ad := &recordingAdapter{}

	err := handler(t, New(bc, nil, logx.Nop()), "broadcast")(context.Background(), newRequest(ad, "1", nil))

	require.NoError(t, err)
	require.Nil(t, bc.got.Source)
	require.Equal(t, []string{"Reply to a message to broadcast."}, ad.sent)
}

func TestBroadcastUnexpectedError(t *testing.T) {
	boom := errors.New("boom")
	ad := &recordingAdapter{}
	err := handler(t, New(&fakeBroadcaster{startErr: boom}, nil, logx.Nop()), "broadcast")(context.Background(), newRequest(ad, "1", nil))
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{textStartFailed}, ad.sent)
}

func TestCancelReplies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ok   bool
		err  error
		want string
	}{
		{"cancelling", true, nil, "🛑 Cancelling broadcast... The current batch will complete before stopping."},
		{"nothing running", false, nil, "No active broadcast to cancel."},
		{"not admin", false, broadcast.ErrNotAuthorized, "You must be an admin to cancel broadcasts."},
		{"disabled", false, broadcast.ErrCancelDisabled, textCancelDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ad := &recordingAdapter{}
			bc := &fakeBroadcaster{cancelOK: tt.ok, cancelErr: tt.err}
			err := handler(t, New(bc, nil, logx.Nop()), "cancelbroadcast")(context.Background(), newRequest(ad, "", nil))
			require.NoError(t, err)
			require.Equal(t, []string{tt.want}, ad.sent)
		})
	}
}

func TestBroadcastLog(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	audit := &fakeAudit{entries: []storage.AuditEntry{
		{At: at, State: "completed", ActorID: 42, Total: 3, Sent: 2, Failed: 1, TookMS: 1500},
	}}

	// Disabled store
	ad := &recordingAdapter{}
	req.NoError(handler(t, New(&fakeBroadcaster{admin: 42}, nil, logx.Nop()), "broadcastlog")(context.Background(), newRequest(ad, "", nil)))
	req.Equal([]string{textLogDisabled}, ad.sent)

	// Non admin
	ad = &recordingAdapter{}
	req.NoError(handler(t, New(&fakeBroadcaster{admin: 1}, audit, logx.Nop()), "broadcastlog")(context.Background(), newRequest(ad, "", nil)))
	req.Equal([]string{textLogNotAdmin}, ad.sent)

	// Limit is capped
	ad = &recordingAdapter{}
	req.NoError(handler(t, New(&fakeBroadcaster{admin: 42}, audit, logx.Nop()), "broadcastlog")(context.Background(), newRequest(ad, "500", nil)))
	req.Equal(maxLogLimit, audit.limit)
	req.Equal([]string{"📒 Recent broadcasts\n2026-03-01 12:00:00 completed by 42: 2/3 sent, 1 failed (1.5s)"}, ad.sent)
}
