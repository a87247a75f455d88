// Package commands binds chat commands to the broadcast coordinator.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/storage"
	"castbot/internal/transport/telegram/router"
	"castbot/pkg/logx"
)

const (
	textCancelNotAdmin = "You must be an admin to cancel broadcasts."
	textCancelling     = "🛑 Cancelling broadcast... The current batch will complete before stopping."
	textNothingActive  = "No active broadcast to cancel."
	textCancelDisabled = "Cancelling broadcasts is disabled."
	textStartFailed    = "❌ An error occurred during broadcast."
	textLogNotAdmin    = "You must be an admin to view the broadcast log."
	textLogDisabled    = "Broadcast log is not enabled."
	textLogEmpty       = "No broadcasts recorded in this chat yet."

	defaultLogLimit = 5
	maxLogLimit     = 20
)

// Broadcaster is the slice of *broadcast.Coordinator the commands use.
type Broadcaster interface {
	Start(ctx context.Context, req broadcast.Request) (broadcast.Result, error)
	Cancel(ctx context.Context, scope broadcast.ScopeID, userID int64) (bool, error)
	Authorized(ctx context.Context, scope broadcast.ScopeID, userID int64) bool
}

// AuditReader lists recent audit entries, newest first.
type AuditReader interface {
	RecentAudit(ctx context.Context, chatID int64, limit int) ([]storage.AuditEntry, error)
}

type Set struct {
	bc    Broadcaster
	audit AuditReader
	log   logx.Logger
}

// New returns the broadcast command set. audit may be nil, which disables
// /broadcastlog.
func New(bc Broadcaster, audit AuditReader, log logx.Logger) *Set {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Set{bc: bc, audit: audit, log: log.With(logx.String("comp", "commands"))}
}

func (s *Set) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "broadcast",
			Description: "copy the replied message to users",
			Usage:       "/broadcast <id,id,...> (as a reply)",
			Detached:    true, // runs for the whole broadcast, off the worker pool
			Handle:      s.handleBroadcast,
		},
		{
			Name:        "cancelbroadcast",
			Description: "stop the running broadcast",
			Usage:       "/cancelbroadcast",
			Timeout:     15 * time.Second,
			Handle:      s.handleCancel,
		},
		{
			Name:        "broadcastlog",
			Description: "recent broadcasts in this chat",
			Usage:       "/broadcastlog [n]",
			Timeout:     15 * time.Second,
			Handle:      s.handleLog,
		},
	}
}

func scopeOf(req *router.Request) broadcast.ScopeID {
	return broadcast.ScopeID(req.Chat.ChatID)
}

func (s *Set) handleBroadcast(ctx context.Context, req *router.Request) error {
	br := broadcast.Request{
		Scope:         scopeOf(req),
		Thread:        req.Chat.ThreadID,
		InitiatorID:   req.FromID,
		RawRecipients: req.RawArgs,
	}
	if req.Message != nil {
		br.Source = req.Message.ReplyTo
	}

	res, err := s.bc.Start(ctx, br)
	if err != nil {
		var ae *broadcast.AdmissionError
		if errors.As(err, &ae) {
			return req.Reply(ctx, ae.Error())
		}
		req.Logger.Error("broadcast start failed", logx.Err(err))
		_ = req.Reply(ctx, textStartFailed)
		return err
	}

	// The admitting context may already be gone on shutdown; the summary
	// still goes out.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, line := range broadcast.Summary(res) {
		if err := req.Reply(rctx, line); err != nil {
			return fmt.Errorf("send summary: %w", err)
		}
	}
	return nil
}

func (s *Set) handleCancel(ctx context.Context, req *router.Request) error {
	ok, err := s.bc.Cancel(ctx, scopeOf(req), req.FromID)
	switch {
	case errors.Is(err, broadcast.ErrNotAuthorized):
		return req.Reply(ctx, textCancelNotAdmin)
	case errors.Is(err, broadcast.ErrCancelDisabled):
		return req.Reply(ctx, textCancelDisabled)
	case err != nil:
		return err
	case ok:
		return req.Reply(ctx, textCancelling)
	default:
		return req.Reply(ctx, textNothingActive)
	}
}

func (s *Set) handleLog(ctx context.Context, req *router.Request) error {
	if s.audit == nil {
		return req.Reply(ctx, textLogDisabled)
	}
	if !s.bc.Authorized(ctx, scopeOf(req), req.FromID) {
		return req.Reply(ctx, textLogNotAdmin)
	}

	limit := defaultLogLimit
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil && n > 0 {
			limit = min(n, maxLogLimit)
		}
	}
	entries, err := s.audit.RecentAudit(ctx, req.Chat.ChatID, limit)
	if err != nil {
		return fmt.Errorf("recent audit: %w", err)
	}
	if len(entries) == 0 {
		return req.Reply(ctx, textLogEmpty)
	}
	return req.Reply(ctx, renderLog(entries))
}

func renderLog(entries []storage.AuditEntry) string {
	var b strings.Builder
	b.WriteString("📒 Recent broadcasts")
	for _, e := range entries {
		fmt.Fprintf(&b, "\n%s %s by %d: %d/%d sent, %d failed (%s)",
			e.At.UTC().Format(time.DateTime), e.State, e.ActorID, e.Sent, e.Total, e.Failed,
			(time.Duration(e.TookMS) * time.Millisecond).String())
	}
	return b.String()
}
