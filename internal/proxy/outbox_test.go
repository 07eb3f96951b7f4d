package proxy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox_OrderAndPending(t *testing.T) {
	ob := newOutbox()
	ob.push(Text("ab"))
	ob.push(Binary([]byte{1, 2, 3}))

	assert.Equal(t, int64(5), ob.Pending())

	m, ok := ob.pop()
	require.True(t, ok)
	assert.Equal(t, Text("ab"), m)
	assert.Equal(t, int64(5), ob.Pending(), "bytes stay pending until written")

	ob.done(m)
	assert.Equal(t, int64(3), ob.Pending())
}

func TestOutbox_Drain(t *testing.T) {
	ob := newOutbox()
	ctx, cancel := context.WithCancel(context.Background())

	written := make(chan Message, 4)
	done := make(chan error, 1)
	go func() {
		done <- ob.drain(ctx, func(m Message) error {
			written <- m
			return nil
		})
	}()

	ob.push(Text("one"))
	ob.push(Text("two"))

	assert.Equal(t, Text("one"), <-written)
	assert.Equal(t, Text("two"), <-written)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("drain did not stop")
	}
	assert.Equal(t, int64(0), ob.Pending())
}

func TestOutbox_DrainWriteError(t *testing.T) {
	ob := newOutbox()
	ob.push(Text("x"))

	boom := errors.New("boom")
	err := ob.drain(context.Background(), func(Message) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), ob.Pending())
}
