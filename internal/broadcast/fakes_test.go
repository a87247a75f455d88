package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"castbot/internal/storage"
	kit "castbot/internal/transport"
)

var errDeliver = errors.New("bot was blocked by the user")

type fakePlatform struct {
	mu        sync.Mutex
	admins    map[int64]bool
	failing   map[int64]bool
	delivered []int64
	statuses  []string
	edits     []string
	nextMsgID int

	// Optional hooks; called without the lock held.
	onDeliver func(id int64)
	onEdit    func(text string)
}

func newFakePlatform(admins ...int64) *fakePlatform {
	p := &fakePlatform{admins: map[int64]bool{}, failing: map[int64]bool{}, nextMsgID: 100}
	for _, a := range admins {
		p.admins[a] = true
	}
	return p
}

func (p *fakePlatform) failFor(ids ...int64) *fakePlatform {
	for _, id := range ids {
		p.failing[id] = true
	}
	return p
}

func (p *fakePlatform) Authorize(_ context.Context, _ ScopeID, userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admins[userID]
}

func (p *fakePlatform) DeliverCopy(_ context.Context, recipient int64, _ kit.MessageRef) error {
	if p.onDeliver != nil {
		p.onDeliver(recipient)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delivered = append(p.delivered, recipient)
	if p.failing[recipient] {
		return errDeliver
	}
	return nil
}

func (p *fakePlatform) SendStatus(_ context.Context, to kit.ChatTarget, text string) (kit.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, text)
	p.nextMsgID++
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: p.nextMsgID}, nil
}

func (p *fakePlatform) UpdateStatus(_ context.Context, _ kit.MessageRef, text string) error {
	p.mu.Lock()
	p.edits = append(p.edits, text)
	p.mu.Unlock()
	if p.onEdit != nil {
		p.onEdit(text)
	}
	return nil
}

func (p *fakePlatform) Delivered() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.delivered...)
}

func (p *fakePlatform) Edits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.edits...)
}

func (p *fakePlatform) Statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.statuses...)
}

type fakeMetrics struct {
	mu       sync.Mutex
	rejected []string
	started  int
	sent     int
	failed   int
	finished []string
}

func (m *fakeMetrics) Rejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, reason)
}

func (m *fakeMetrics) Started() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *fakeMetrics) Delivered(sent, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent += sent
	m.failed += failed
}

func (m *fakeMetrics) Finished(state string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, state)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *fakeAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}
