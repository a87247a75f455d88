package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFiltersByPrefix(t *testing.T) {
	req := require.New(t)
	b := New()

	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	only, unsubOnly := b.Subscribe(4, "broadcast.")
	defer unsubOnly()

	b.Publish(Event{Type: "config.reloaded"})
	b.Publish(Event{Type: "broadcast.started", Data: 1})

	req.Len(all, 2)
	req.Len(only, 1)
	e := <-only
	req.Equal("broadcast.started", e.Type)
	req.False(e.Time.IsZero())
}

func TestPublishDropsWhenFull(t *testing.T) {
	req := require.New(t)
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	req.Len(ch, 1)
	req.EqualValues(1, b.Dropped())
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "after"})
}
