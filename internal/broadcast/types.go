// Package broadcast copies one source message to an explicit list of users
// without exceeding an outbound send rate.
//
// A broadcast is admitted per chat (scope): at most one runs at a time in a
// given chat, and a cooldown separates consecutive starts. Admitted
// broadcasts are delivered in fixed-size concurrent batches with a pause
// between batches, report progress after every batch and stop at the next
// batch boundary when cancelled.
package broadcast

import (
	"time"

	kit "castbot/internal/transport"
)

// ScopeID identifies the chat a broadcast is admitted in.
type ScopeID int64

// Request is a single "start broadcast" command.
type Request struct {
	Scope       ScopeID
	Thread      int
	InitiatorID int64

	// Source is the message being copied; nil when the command was not a reply.
	Source *kit.MessageRef

	// RawRecipients is the unparsed recipient argument, e.g. "1, 2,3".
	RawRecipients string
}

// Target is where status messages for the request are posted.
func (r Request) Target() kit.ChatTarget {
	return kit.ChatTarget{ChatID: int64(r.Scope), ThreadID: r.Thread}
}

// Outcome partitions processed recipients. Within a batch the order is the
// order in which deliveries completed.
type Outcome struct {
	Sent   []int64
	Failed []int64
}

// Processed is len(Sent)+len(Failed).
func (o Outcome) Processed() int { return len(o.Sent) + len(o.Failed) }

// State is the terminal state of an admitted broadcast.
type State string

const (
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Result describes an admitted broadcast after it stopped.
type Result struct {
	RunID    string
	Scope    ScopeID
	State    State
	Outcome  Outcome
	Total    int
	Started  time.Time
	Finished time.Time

	// Err is the cause when State is StateFailed.
	Err error
}

// Options tune admission and pacing. They are read once per admitted run, so
// a hot reload only affects broadcasts started afterwards.
type Options struct {
	// BatchSize is the number of concurrent sends per batch (messages per second).
	BatchSize int
	// Interval is the pause after every batch except the last.
	Interval time.Duration
	// Cooldown is the minimum time between two starts in the same scope.
	Cooldown        time.Duration
	CooldownEnabled bool
	CancelEnabled   bool
	// ProgressEvery throttles status edits; the final update is always sent.
	ProgressEvery time.Duration
}

const (
	DefaultBatchSize     = 30
	DefaultInterval      = time.Second
	DefaultCooldown      = 10 * time.Second
	DefaultProgressEvery = time.Second
)

// DefaultOptions returns the reference configuration.
func DefaultOptions() Options {
	return Options{
		BatchSize:       DefaultBatchSize,
		Interval:        DefaultInterval,
		Cooldown:        DefaultCooldown,
		CooldownEnabled: true,
		CancelEnabled:   true,
		ProgressEvery:   DefaultProgressEvery,
	}
}

func (o Options) normalized() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Interval < 0 {
		o.Interval = 0
	}
	if o.Cooldown < 0 {
		o.Cooldown = 0
	}
	if o.ProgressEvery < 0 {
		o.ProgressEvery = 0
	}
	return o
}
