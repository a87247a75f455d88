package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	kit "castbot/internal/transport"
	"castbot/pkg/logx"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

const progressHeader = "📤 Broadcasting messages: %d%%"

// InitialStatus is the text of the status message before the first batch.
func InitialStatus() string { return fmt.Sprintf(progressHeader, 0) }

// RenderProgress renders the status message after a batch.
func RenderProgress(percent, sent, failed int) string {
	return fmt.Sprintf(progressHeader+"\n✅ Sent: %d\n❌ Failed: %d\nUse /cancelbroadcast to stop", percent, sent, failed)
}

// ProgressReporter edits one status message in place. Edits are throttled so
// very small batch intervals do not flood the chat API; a 100% update is
// never dropped. Edit errors are logged and otherwise ignored.
type ProgressReporter struct {
	platform Platform
	ref      kit.MessageRef
	clock    clock.Clock
	log      logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	last    int
	pushed  int
}

func NewProgressReporter(p Platform, ref kit.MessageRef, every time.Duration, clk clock.Clock, log logx.Logger) *ProgressReporter {
	if clk == nil {
		clk = clock.New()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if every > 0 {
		lim = rate.NewLimiter(rate.Every(every), 1)
	}
	return &ProgressReporter{platform: p, ref: ref, clock: clk, log: log, limiter: lim, last: -1}
}

// Update pushes the rendered progress to the status message.
func (r *ProgressReporter) Update(ctx context.Context, percent, sent, failed int) {
	if r == nil || r.platform == nil || r.ref.MessageID == 0 {
		return
	}
	r.mu.Lock()
	if percent < r.last {
		r.mu.Unlock()
		return
	}
	if percent < 100 && !r.limiter.AllowN(r.clock.Now(), 1) {
		r.mu.Unlock()
		return
	}
	r.last = percent
	r.pushed++
	r.mu.Unlock()

	if err := r.platform.UpdateStatus(ctx, r.ref, RenderProgress(percent, sent, failed)); err != nil {
		r.log.Warn("progress update failed", logx.Int("percent", percent), logx.Err(err))
	}
}

// Pushed returns how many edits were attempted.
func (r *ProgressReporter) Pushed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushed
}
