package broadcast

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"castbot/internal/eventbus"
	"castbot/internal/storage"
	"castbot/pkg/logx"

	"github.com/benbjohnson/clock"
)

// Event types published on the bus.
const (
	EventStarted  = "broadcast.started"
	EventProgress = "broadcast.progress"
	EventFinished = "broadcast.finished"
)

// StartedEvent is the Data of EventStarted.
type StartedEvent struct {
	RunID string
	Scope ScopeID
	Total int
}

// ProgressEvent is the Data of EventProgress.
type ProgressEvent struct {
	RunID   string
	Scope   ScopeID
	Percent int
	Sent    int
	Failed  int
}

// Metrics receives coordinator counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Rejected(reason string)
	Started()
	Delivered(sent, failed int)
	Finished(state string, took time.Duration)
}

// AuditSink persists one entry per admitted broadcast.
type AuditSink interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Deps are the collaborators of a Coordinator. Platform is required.
type Deps struct {
	Platform Platform
	Clock    clock.Clock
	Log      logx.Logger
	Bus      eventbus.Bus
	Metrics  Metrics
	Audit    AuditSink
}

// Coordinator admits and runs broadcasts.
type Coordinator struct {
	platform Platform
	registry *Registry
	cooldown *CooldownTracker
	clock    clock.Clock
	log      logx.Logger
	bus      eventbus.Bus
	metrics  Metrics
	audit    AuditSink

	mu   sync.RWMutex
	opts Options
}

func NewCoordinator(opts Options, deps Deps) *Coordinator {
	opts = opts.normalized()
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Coordinator{
		platform: deps.Platform,
		registry: NewRegistry(),
		cooldown: NewCooldownTracker(opts.Cooldown),
		clock:    deps.Clock,
		log:      deps.Log.With(logx.String("comp", "broadcast")),
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		audit:    deps.Audit,
		opts:     opts,
	}
}

// Apply swaps the options used by broadcasts admitted from now on.
func (c *Coordinator) Apply(opts Options) {
	opts = opts.normalized()
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
	c.cooldown.SetPeriod(opts.Cooldown)
}

func (c *Coordinator) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// Registry exposes the per-scope admission state.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Authorized reports whether userID may start or cancel broadcasts in scope.
func (c *Coordinator) Authorized(ctx context.Context, scope ScopeID, userID int64) bool {
	return c.platform != nil && c.platform.Authorize(ctx, scope, userID)
}

// Start validates req, then runs the broadcast to completion. A rejected
// request returns an *AdmissionError and changes nothing. An admitted
// request always returns a Result with a nil error; Result.State tells
// whether it completed, was cancelled or failed.
func (c *Coordinator) Start(ctx context.Context, req Request) (Result, error) {
	opts := c.Options()

	recipients, err := c.validate(ctx, req, opts)
	if err != nil {
		c.reject(req, err)
		return Result{}, err
	}
	run, err := c.admit(req.Scope, opts)
	if err != nil {
		c.reject(req, err)
		return Result{}, err
	}
	defer c.registry.Release(req.Scope)

	res := Result{RunID: run.ID(), Scope: req.Scope, Total: len(recipients), Started: c.clock.Now()}
	log := c.log.With(logx.String("run_id", run.ID()), logx.Int64("chat_id", int64(req.Scope)))
	log.Info("broadcast admitted", logx.Int64("actor_id", req.InitiatorID), logx.Int("recipients", len(recipients)))

	if c.metrics != nil {
		c.metrics.Started()
	}
	c.publish(EventStarted, StartedEvent{RunID: run.ID(), Scope: req.Scope, Total: len(recipients)})

	res.Outcome, res.Err = c.execute(ctx, req, run, recipients, opts, log)
	c.registry.Finish(run)
	res.Finished = c.clock.Now()
	switch {
	case res.Err == nil:
		res.State = StateCompleted
	case errors.Is(res.Err, ErrCancelled):
		res.State = StateCancelled
		res.Err = nil
	default:
		res.State = StateFailed
		log.Error("broadcast failed", logx.Err(res.Err))
	}

	c.finish(ctx, req, res, log)
	return res, nil
}

// Cancel asks the running broadcast in scope to stop at the next batch
// boundary. It returns false when nothing is running.
func (c *Coordinator) Cancel(ctx context.Context, scope ScopeID, userID int64) (bool, error) {
	if !c.Options().CancelEnabled {
		return false, ErrCancelDisabled
	}
	if !c.Authorized(ctx, scope, userID) {
		return false, ErrNotAuthorized
	}
	ok := c.registry.Cancel(scope)
	if ok {
		c.log.Info("broadcast cancel requested", logx.Int64("chat_id", int64(scope)), logx.Int64("actor_id", userID))
	}
	return ok, nil
}

func (c *Coordinator) validate(ctx context.Context, req Request, opts Options) ([]int64, error) {
	if !c.Authorized(ctx, req.Scope, req.InitiatorID) {
		return nil, &AdmissionError{Reason: ReasonNotAdmin}
	}
	if req.Source == nil {
		return nil, &AdmissionError{Reason: ReasonNoSource}
	}
	if strings.TrimSpace(req.RawRecipients) == "" {
		return nil, &AdmissionError{Reason: ReasonNoRecipients}
	}
	recipients := ParseRecipients(req.RawRecipients)
	if len(recipients) == 0 {
		return nil, &AdmissionError{Reason: ReasonNoValidRecipients}
	}
	if c.registry.Active(req.Scope) {
		return nil, &AdmissionError{Reason: ReasonAlreadyActive}
	}
	if opts.CooldownEnabled {
		if cooling, left := c.cooldown.IsCoolingDown(req.Scope, c.clock.Now()); cooling {
			return nil, &AdmissionError{Reason: ReasonCoolingDown, Remaining: left}
		}
	}
	return recipients, nil
}

// admit takes the scope slot. Cooldown is checked again while the slot is
// held so two racing starts cannot both pass.
func (c *Coordinator) admit(scope ScopeID, opts Options) (*Run, error) {
	run, ok := c.registry.TryAcquire(scope)
	if !ok {
		return nil, &AdmissionError{Reason: ReasonAlreadyActive}
	}
	now := c.clock.Now()
	if opts.CooldownEnabled {
		if cooling, left := c.cooldown.IsCoolingDown(scope, now); cooling {
			c.registry.Release(scope)
			return nil, &AdmissionError{Reason: ReasonCoolingDown, Remaining: left}
		}
	}
	c.cooldown.RecordStart(scope, now)
	return run, nil
}

func (c *Coordinator) execute(ctx context.Context, req Request, run *Run, recipients []int64, opts Options, log logx.Logger) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("broadcast panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("broadcast panic: %v", r)
		}
	}()

	status, serr := c.platform.SendStatus(ctx, req.Target(), InitialStatus())
	if serr != nil {
		log.Warn("status message failed", logx.Err(serr))
	}
	reporter := NewProgressReporter(c.platform, status, opts.ProgressEvery, c.clock, log)

	isCancelled := func() bool { return false }
	if opts.CancelEnabled {
		isCancelled = run.Cancelled
	}
	src := *req.Source
	deliver := func(ctx context.Context, id int64) error {
		return c.platform.DeliverCopy(ctx, id, src)
	}
	onProgress := func(percent, sent, failed int) {
		reporter.Update(ctx, percent, sent, failed)
		c.publish(EventProgress, ProgressEvent{RunID: run.ID(), Scope: req.Scope, Percent: percent, Sent: sent, Failed: failed})
	}

	d := NewDispatcher(opts.BatchSize, opts.Interval, c.clock, log)
	return d.Run(ctx, recipients, deliver, isCancelled, onProgress)
}

func (c *Coordinator) finish(ctx context.Context, req Request, res Result, log logx.Logger) {
	took := res.Finished.Sub(res.Started)
	log.Info("broadcast finished",
		logx.String("state", string(res.State)),
		logx.Int("sent", len(res.Outcome.Sent)),
		logx.Int("failed", len(res.Outcome.Failed)),
		logx.Duration("took", took),
	)

	if c.metrics != nil {
		c.metrics.Delivered(len(res.Outcome.Sent), len(res.Outcome.Failed))
		c.metrics.Finished(string(res.State), took)
	}
	c.publish(EventFinished, res)

	if c.audit == nil {
		return
	}
	entry := storage.AuditEntry{
		At:        res.Finished,
		RunID:     res.RunID,
		ChatID:    int64(req.Scope),
		ThreadID:  req.Thread,
		ActorID:   req.InitiatorID,
		State:     string(res.State),
		Total:     res.Total,
		Sent:      len(res.Outcome.Sent),
		Failed:    len(res.Outcome.Failed),
		FailedIDs: res.Outcome.Failed,
		TookMS:    took.Milliseconds(),
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	// Record even when the run ended because of shutdown.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.audit.AppendAudit(actx, entry); err != nil {
		log.Warn("audit append failed", logx.Err(err))
	}
}

func (c *Coordinator) reject(req Request, err error) {
	var ae *AdmissionError
	if !errors.As(err, &ae) {
		return
	}
	c.log.Debug("broadcast rejected",
		logx.Int64("chat_id", int64(req.Scope)),
		logx.Int64("actor_id", req.InitiatorID),
		logx.String("reason", string(ae.Reason)),
	)
	if c.metrics != nil {
		c.metrics.Rejected(string(ae.Reason))
	}
}

func (c *Coordinator) publish(typ string, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Time: c.clock.Now(), Data: data})
}
