package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus(4, nil)
	all, cancelAll := b.Subscribe("")
	defer cancelAll()
	s1, cancelS1 := b.Subscribe("s1")
	defer cancelS1()

	b.Notify(Notification{Kind: KindMessage, SessionID: "s1"})
	b.Notify(Notification{Kind: KindStopped, SessionID: "s2"})

	require.Len(t, all, 2)
	require.Len(t, s1, 1)
	n := <-s1
	assert.Equal(t, KindMessage, n.Kind)
	assert.False(t, n.Time.IsZero())
}

func TestBusDropsWhenFull(t *testing.T) {
	b := NewBus(1, nil)
	ch, cancel := b.Subscribe("")
	defer cancel()

	b.Notify(Notification{Kind: KindStats})
	b.Notify(Notification{Kind: KindStats})
	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus(0, nil)
	ch, cancel := b.Subscribe("")
	assert.Equal(t, 1, b.Subscribers())
	cancel()
	cancel()
	assert.Equal(t, 0, b.Subscribers())

	_, ok := <-ch
	assert.False(t, ok)
	b.Notify(Notification{Kind: KindError})
}

func TestMulti(t *testing.T) {
	var got []Kind
	rec := SinkFunc(func(n Notification) { got = append(got, n.Kind) })
	Multi(rec, Discard, rec).Notify(Notification{Kind: KindError})
	assert.Equal(t, []Kind{KindError, KindError}, got)
}
