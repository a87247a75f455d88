package adapter

import (
	"context"
	"strings"
	"testing"
	"time"

	kit "castbot/internal/transport"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	req.Equal([]string{"short"}, splitText("short", 10, ""))

	// Prefers a newline near the end of the window
	in := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	req.Equal([]string{"aaaaaa", "bbbbbb"}, splitText(in, 10, ""))

	// Hard cut when there is no newline
	parts := splitText(strings.Repeat("x", 25), 10, "")
	req.Len(parts, 3)
	req.Len(parts[2], 5)

	// Rune aware
	parts = splitText(strings.Repeat("📤", 12), 10, "")
	req.Len(parts, 2)
	req.Equal(10, len([]rune(parts[0])))
}

func TestSplitTextHTMLTags(t *testing.T) {
	t.Parallel()
	in := "abcdefgh<b>x</b>"
	parts := splitText(in, 10, "HTML")
	require.Equal(t, []string{"abcdefgh", "<b>x</b>"}, parts)
	require.Equal(t, in, strings.Join(parts, ""))
}

func TestToMessage(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	src := &tele.Message{ID: 5, ThreadID: 2, Chat: &tele.Chat{ID: -100, Type: tele.ChatSuperGroup}}
	m := toMessage(&tele.Message{
		ID:       9,
		ThreadID: 2,
		Text:     "/broadcast 1,2",
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 42, Username: "ops"},
		ReplyTo:  src,
	})
	req.NotNil(m)
	req.Equal(int64(42), m.FromID)
	req.True(m.IsGroup)
	req.Equal(&kit.MessageRef{ChatID: -100, ThreadID: 2, MessageID: 5}, m.ReplyTo)

	priv := toMessage(&tele.Message{ID: 1, Chat: &tele.Chat{ID: 7, Type: tele.ChatPrivate}})
	req.False(priv.IsGroup)
	req.Nil(priv.ReplyTo)
	req.Zero(priv.FromID)

	req.Nil(toMessage(nil))
	req.Nil(toMessage(&tele.Message{ID: 1}))
}

func TestWaitHonorsLimiterAndContext(t *testing.T) {
	req := require.New(t)

	a := &Adapter{}
	req.NoError(a.wait(context.Background()))

	a.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	req.NoError(a.wait(context.Background()), "burst token")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req.Error(a.wait(ctx), "next token is an hour away")
}

func TestMenuHashTracksContent(t *testing.T) {
	t.Parallel()
	a := []kit.BotCommand{{Command: "help", Description: "show help"}}
	b := []kit.BotCommand{{Command: "help", Description: "show commands"}}
	// A moved separator must not collide
	c := []kit.BotCommand{{Command: "helpshow", Description: " help"}}

	require.Equal(t, menuHash(a), menuHash([]kit.BotCommand{{Command: "help", Description: "show help"}}))
	require.NotEqual(t, menuHash(a), menuHash(b))
	require.NotEqual(t, menuHash(a), menuHash(c))
}

func TestPushDropsWhenFull(t *testing.T) {
	t.Parallel()
	a := &Adapter{}
	a.push(kit.Update{Kind: kit.UpdateMessage}) // no consumer yet

	out := make(chan kit.Update, 1)
	var send chan<- kit.Update = out
	a.out.Store(&send)
	a.push(kit.Update{Kind: kit.UpdateMessage})
	a.push(kit.Update{Kind: kit.UpdateMessage})

	require.Len(t, out, 1)
	require.Equal(t, uint64(1), a.dropped.Load())
}
