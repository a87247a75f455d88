package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"

	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

func sendOptions(opt *kit.SendOptions, threadID int) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: threadID}
	if opt != nil {
		so.ParseMode = opt.ParseMode
		so.DisableWebPagePreview = opt.DisablePreview
	}
	return so
}

func parseMode(opt *kit.SendOptions) string {
	if opt == nil {
		return ""
	}
	return opt.ParseMode
}

// SendText sends text, split into several messages when it is too long.
// The returned ref is the first message; on a mid-way failure it is
// returned together with the error.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit, parseMode(opt)) {
		if err := a.wait(ctx); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOptions(opt, to.ThreadID))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces the text of ref. Overflow beyond one message is sent
// as follow-up messages in the same thread.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	chunks := splitText(text, textLimit, parseMode(opt))
	if err := a.wait(ctx); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], sendOptions(opt, 0)); err != nil {
		return err
	}
	chat := &tele.Chat{ID: ref.ChatID}
	for _, chunk := range chunks[1:] {
		if err := a.wait(ctx); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, sendOptions(opt, ref.ThreadID)); err != nil {
			return err
		}
	}
	return nil
}

// CopyMessage sends a copy of from into the chat to (no forward header).
func (a *Adapter) CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	src := tele.StoredMessage{MessageID: strconv.Itoa(from.MessageID), ChatID: from.ChatID}
	_, err := a.bot.Copy(&tele.Chat{ID: to.ChatID}, src, &tele.SendOptions{ThreadID: to.ThreadID})
	return err
}

// MemberRole returns the chat member status of userID ("creator",
// "administrator", "member", ...).
func (a *Adapter) MemberRole(ctx context.Context, chatID, userID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", errors.New("telegram: empty chat member")
	}
	return string(m.Role), nil
}

// wait blocks until the outbound limiter admits one more call.
func (a *Adapter) wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if a.limiter == nil {
		return ctx.Err()
	}
	return a.limiter.Wait(ctx)
}

// UpdateMenuCommands publishes the bot command menu (setMyCommands). The
// call is skipped when the list has not changed since the last success.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	sum := menuHash(cmds)
	if sum == a.menuHash {
		return nil
	}
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command != "" {
			list = append(list, tele.Command{Text: c.Command, Description: c.Description})
		}
	}
	if err := a.wait(ctx); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

func menuHash(cmds []kit.BotCommand) uint64 {
	h := fnv.New64a()
	for _, c := range cmds {
		_, _ = h.Write([]byte(c.Command))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(c.Description))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
