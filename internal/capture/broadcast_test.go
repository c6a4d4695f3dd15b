package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := newBroadcaster[int](4)
	ch1, unsub1 := b.subscribe()
	ch2, unsub2 := b.subscribe()
	defer unsub1()
	defer unsub2()

	b.publish(42)

	assert.Equal(t, 42, <-ch1)
	assert.Equal(t, 42, <-ch2)
}

func TestBroadcasterDropsOldestWhenFull(t *testing.T) {
	b := newBroadcaster[int](2)
	ch, unsub := b.subscribe()
	defer unsub()

	b.publish(1)
	b.publish(2)
	b.publish(3) // buffer full at depth 2, should drop the "1"

	require.Equal(t, uint64(1), b.droppedCount())
	assert.Equal(t, 2, <-ch)
	assert.Equal(t, 3, <-ch)
}

func TestBroadcasterUnsubscribeIsIdempotentAndClosesChannel(t *testing.T) {
	b := newBroadcaster[int](1)
	ch, unsub := b.subscribe()
	unsub()
	unsub() // must not panic

	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcasterCloseAll(t *testing.T) {
	b := newBroadcaster[int](1)
	ch1, _ := b.subscribe()
	ch2, _ := b.subscribe()

	b.closeAll()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
}
