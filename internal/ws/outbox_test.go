package ws

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutboxDropsOldestEvent(t *testing.T) {
	o := newOutbox(3)
	for i := 0; i < 5; i++ {
		o.pushEvent([]byte(fmt.Sprint(i)))
	}

	_, events, dropped := o.drain()
	assert.Equal(t, 2, dropped)
	assert.Equal(t, [][]byte{[]byte("2"), []byte("3"), []byte("4")}, events)
}

func TestOutboxNeverDropsReplies(t *testing.T) {
	o := newOutbox(1)
	for i := 0; i < 100; i++ {
		o.pushReply([]byte(fmt.Sprint(i)))
	}
	o.pushEvent([]byte("e1"))
	assert.True(t, o.pushEvent([]byte("e2")))

	replies, events, dropped := o.drain()
	assert.Len(t, replies, 100)
	assert.Equal(t, [][]byte{[]byte("e2")}, events)
	assert.Equal(t, 1, dropped)
}

func TestOutboxDrainResets(t *testing.T) {
	o := newOutbox(1)
	o.pushEvent([]byte("a"))
	o.pushEvent([]byte("b"))
	o.drain()

	replies, events, dropped := o.drain()
	assert.Empty(t, replies)
	assert.Empty(t, events)
	assert.Zero(t, dropped)
	assert.Zero(t, o.len())
}

func TestOutboxSignalsOnce(t *testing.T) {
	o := newOutbox(4)
	o.pushEvent([]byte("a"))
	o.pushReply([]byte("b"))

	<-o.ready
	select {
	case <-o.ready:
		t.Fatal("ready should coalesce")
	default:
	}
}

func TestHistoryRing(t *testing.T) {
	h := newHistory(3)
	assert.Empty(t, h.list())

	for i := 1; i <= 4; i++ {
		h.add(EventMessage{Seq: uint64(i)})
	}
	got := h.list()
	assert.Len(t, got, 3)
	assert.Equal(t, uint64(2), got[0].Seq)
	assert.Equal(t, uint64(4), got[2].Seq)
}
