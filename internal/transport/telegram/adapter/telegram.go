package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "castbot/internal/runtime/supervisor"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// Config configures the Telegram adapter.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec caps every outbound call (send, copy, edit). 0 disables the cap.
	RatePerSec float64
}

const (
	defaultPollTimeout = 10 * time.Second
	dropReportEvery    = 5 * time.Second
	stopGrace          = 2 * time.Second
)

// Adapter is the telebot-backed kit.Adapter. Updates are pushed to the
// channel given to Start; when the consumer lags they are dropped and
// counted, never queued without bound.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	// limiter is nil when no outbound cap is configured.
	limiter *rate.Limiter

	out     atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	if cfg.RatePerSec > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(1, int(cfg.RatePerSec)))
	}
	b.Handle(tele.OnText, func(c tele.Context) error {
		if m := toMessage(c.Message()); m != nil {
			a.push(kit.Update{Kind: kit.UpdateMessage, Message: m})
		}
		return nil
	})
	return a, nil
}

func toMessage(m *tele.Message) *kit.Message {
	if m == nil || m.Chat == nil {
		return nil
	}
	out := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		IsGroup:  m.Chat.Type != tele.ChatPrivate,
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
	}
	if r := m.ReplyTo; r != nil && r.Chat != nil {
		out.ReplyTo = &kit.MessageRef{ChatID: r.Chat.ID, ThreadID: r.ThreadID, MessageID: r.ID}
	}
	return out
}

func (a *Adapter) push(up kit.Update) {
	p := a.out.Load()
	if p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		a.dropped.Add(1)
	}
}

// Supervisor returns the adapter's supervisor, nil when not running.
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

// Start begins long polling. Calling it on a running adapter is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out.Store(&out)
	// Polling hiccups must not take the app down.
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	a.sup = sup

	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(dropReportEvery)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-t.C:
				a.reportDrops(cap(out))
			}
		}
	})

	// bot.Stop blocks until the poller acknowledges, so it runs once per Start.
	var stopOnce sync.Once
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		stopOnce.Do(a.bot.Stop)
	})

	// bot.Start blocks until bot.Stop; an early return is restarted.
	sup.GoRestart0("telebot.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDrops(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop ends polling. It waits at most stopGrace (or the ctx deadline) for
// the getUpdates long poll to unwind and never fails shutdown.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.out.Store(nil)
	a.runMu.Unlock()

	if sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.dropped.Load()))
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
		} else {
			a.log.Debug("telegram stopped with error", logx.Err(err))
		}
	}
	return nil
}
