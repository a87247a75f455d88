package broadcast

import (
	"context"
	"errors"

	kit "castbot/internal/transport"
	"castbot/pkg/logx"
)

// Platform is everything the coordinator needs from the chat service.
type Platform interface {
	// Authorize reports whether userID may run broadcasts in scope. Any lookup
	// error counts as "no".
	Authorize(ctx context.Context, scope ScopeID, userID int64) bool
	// DeliverCopy copies src into the private chat of recipient.
	DeliverCopy(ctx context.Context, recipient int64, src kit.MessageRef) error
	SendStatus(ctx context.Context, to kit.ChatTarget, text string) (kit.MessageRef, error)
	UpdateStatus(ctx context.Context, ref kit.MessageRef, text string) error
}

// NewAdapterPlatform backs Platform with a transport adapter.
func NewAdapterPlatform(ad kit.Adapter, log logx.Logger) Platform {
	return &adapterPlatform{ad: ad, log: log.With(logx.String("comp", "broadcast.platform"))}
}

type adapterPlatform struct {
	ad  kit.Adapter
	log logx.Logger
}

func (p *adapterPlatform) Authorize(ctx context.Context, scope ScopeID, userID int64) bool {
	if p.ad == nil {
		return false
	}
	role, err := p.ad.MemberRole(ctx, int64(scope), userID)
	if err != nil {
		p.log.Warn("member role lookup failed", logx.Int64("chat_id", int64(scope)), logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	return role == kit.RoleCreator || role == kit.RoleAdministrator
}

func (p *adapterPlatform) DeliverCopy(ctx context.Context, recipient int64, src kit.MessageRef) error {
	if p.ad == nil {
		return errors.New("no adapter")
	}
	return p.ad.CopyMessage(ctx, kit.ChatTarget{ChatID: recipient}, src)
}

func (p *adapterPlatform) SendStatus(ctx context.Context, to kit.ChatTarget, text string) (kit.MessageRef, error) {
	if p.ad == nil {
		return kit.MessageRef{}, errors.New("no adapter")
	}
	return p.ad.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true})
}

func (p *adapterPlatform) UpdateStatus(ctx context.Context, ref kit.MessageRef, text string) error {
	if p.ad == nil {
		return errors.New("no adapter")
	}
	return p.ad.EditText(ctx, ref, text, &kit.SendOptions{DisablePreview: true})
}
