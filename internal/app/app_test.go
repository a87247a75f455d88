package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/config"
	kit "castbot/internal/transport"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/require"
)

const (
	groupID int64 = -100
	adminID int64 = 42
)

type fakeAdapter struct {
	mu     sync.Mutex
	out    chan<- kit.Update
	sent   []string
	copied []int64
}

func (a *fakeAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	a.out = out
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) Stop(context.Context) error { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *fakeAdapter) CopyMessage(_ context.Context, to kit.ChatTarget, _ kit.MessageRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.copied = append(a.copied, to.ChatID)
	return nil
}

func (a *fakeAdapter) MemberRole(_ context.Context, _, userID int64) (string, error) {
	if userID == adminID {
		return kit.RoleAdministrator, nil
	}
	return kit.RoleMember, nil
}

func (a *fakeAdapter) push(text string, reply *kit.MessageRef) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: groupID, FromID: adminID, IsGroup: true, Text: text, ReplyTo: reply,
	}}
}

func (a *fakeAdapter) sentContains(sub string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.sent {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestAppBroadcastEndToEnd(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `{
  "telegram": {"token": "test"},
  "logging": {"level": "error"},
  "broadcast": {"messages_per_second": 2, "batch_interval": "0s", "progress_every": "0s"},
  "storage": {"driver": "file", "path": "`+filepath.ToSlash(filepath.Join(dir, "audit"))+`"}
}`)

	ad := &fakeAdapter{}
	var (
		nmu    sync.Mutex
		states []string
	)
	a, err := NewApp(cfgPath, WithAdapter(ad), WithNotifier(func(s string) {
		nmu.Lock()
		states = append(states, s)
		nmu.Unlock()
	}))
	req.NoError(err)
	req.Equal(2, a.Coordinator().Options().BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req.NoError(a.Start(ctx))

	// A reply broadcast reaches every listed user and reports back
	ad.push("/broadcast 1, 2,3", &kit.MessageRef{ChatID: groupID, MessageID: 5})
	req.Eventually(func() bool { return ad.sentContains("📬 Broadcast completed!") }, 3*time.Second, 10*time.Millisecond)
	ad.mu.Lock()
	req.ElementsMatch([]int64{1, 2, 3}, ad.copied)
	ad.mu.Unlock()
	req.True(ad.sentContains("✅ Successfully sent to 3 users"))

	// The run was audited
	ad.push("/broadcastlog", nil)
	req.Eventually(func() bool { return ad.sentContains("completed by 42: 3/3 sent") }, 3*time.Second, 10*time.Millisecond)

	// A second start inside the cooldown is refused
	ad.push("/broadcast 4", &kit.MessageRef{ChatID: groupID, MessageID: 6})
	req.Eventually(func() bool { return ad.sentContains("⏳ Please wait") }, 3*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	req.NoError(a.Stop(stopCtx, StopSignal))

	nmu.Lock()
	req.Equal([]string{daemon.SdNotifyReady, daemon.SdNotifyStopping}, states)
	nmu.Unlock()
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	_, err := NewApp(writeConfig(t, dir, `{"telegram": {"token": "t"}, "broadcast": {"cooldown": "later"}}`), WithAdapter(&fakeAdapter{}))
	require.ErrorContains(t, err, "broadcast.cooldown")

	_, err = NewApp(filepath.Join(dir, "missing.json"), WithAdapter(&fakeAdapter{}))
	require.Error(t, err)
}

func TestMapBroadcastOptions(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	off := false

	cfg, err := loadInline(t, `{"telegram": {"token": "t"}}`)
	req.NoError(err)
	opts, err := mapBroadcastOptions(cfg)
	req.NoError(err)
	req.Equal(broadcast.DefaultOptions(), opts)

	cfg.Broadcast.MessagesPerSecond = 5
	cfg.Broadcast.BatchInterval = "0s"
	cfg.Broadcast.Cooldown = "1m"
	cfg.Broadcast.CancelEnabled = &off
	opts, err = mapBroadcastOptions(cfg)
	req.NoError(err)
	req.Equal(5, opts.BatchSize)
	req.Zero(opts.Interval)
	req.Equal(time.Minute, opts.Cooldown)
	req.False(opts.CancelEnabled)
	req.True(opts.CooldownEnabled)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg, err := loadInline(t, `{"telegram": {"token": "t"}, "storage": {"driver": "sqlite3", "path": "x.db"}}`)
	require.NoError(t, err)
	sc, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	require.True(t, enabled)
	require.Equal(t, "sqlite3", sc.Driver)
	require.Equal(t, time.Second, sc.BusyTimeout)

	cfg.Storage.Driver = "none"
	_, enabled, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	require.False(t, enabled)
}

func loadInline(t *testing.T, body string) (*config.Config, error) {
	t.Helper()
	return config.NewConfigManager(writeConfig(t, t.TempDir(), body)).Load()
}
