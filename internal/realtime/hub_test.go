package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/realtime"
)

func TestHub_Deliver(t *testing.T) {
	h := realtime.NewHub()

	lobby := h.Subscribe("111111", realtime.AudienceLobby)
	play := h.Subscribe("111111", realtime.AudiencePlay)
	other := h.Subscribe("222222", realtime.AudiencePlay)

	h.Deliver("111111", realtime.AudiencePlay, []byte("hello"))

	assert.Equal(t, []byte("hello"), receive(t, play.C))
	assertEmpty(t, lobby.C)
	assertEmpty(t, other.C)

	play.Close()
	play.Close()
	_, ok := <-play.C
	assert.False(t, ok, "closed subscriber should have its channel closed")
	assert.Equal(t, 0, h.Subscribers("111111", realtime.AudiencePlay))
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	h := realtime.NewHub()

	slow := h.Subscribe("111111", realtime.AudiencePlay)
	fast := h.Subscribe("111111", realtime.AudiencePlay)

	for i := 0; i < 100; i++ {
		h.Deliver("111111", realtime.AudiencePlay, []byte("tick"))
		<-fast.C
	}

	assert.Equal(t, 1, h.Subscribers("111111", realtime.AudiencePlay))

	n := 0
	for range slow.C {
		n++
	}
	assert.Equal(t, 64, n, "slow subscriber should keep what was buffered, then be closed")

	slow.Close()
}

func TestHub_Close(t *testing.T) {
	h := realtime.NewHub()

	a := h.Subscribe("111111", realtime.AudienceLobby)
	b := h.Subscribe("222222", realtime.AudiencePlay)

	h.Close()

	for _, s := range []*realtime.Subscriber{a, b} {
		_, ok := <-s.C
		assert.False(t, ok)
		s.Close()
	}
	assert.Equal(t, 0, h.Subscribers("111111", realtime.AudienceLobby))

	late := h.Subscribe("111111", realtime.AudienceLobby)
	_, ok := <-late.C
	assert.False(t, ok, "subscribing after close should get a closed channel")
	assert.Equal(t, 0, h.Subscribers("111111", realtime.AudienceLobby))
	late.Close()
}

func TestRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := realtime.NewHub()
	sub := h.Subscribe("482913", realtime.AudienceLobby)

	relay := realtime.NewRelay(rdb, "lq", h)
	require.NoError(t, relay.Start(context.Background()))

	pub := realtime.NewRedisPublisher(rdb, "lq")
	require.NoError(t, pub.Publish(context.Background(), "482913", realtime.AudienceLobby, []byte(`{"type":"lobby_state"}`)))

	assert.JSONEq(t, `{"type":"lobby_state"}`, string(receive(t, sub.C)))

	// Foreign channels under the prefix are ignored.
	require.NoError(t, rdb.Publish(context.Background(), "lq:live:482913:host", "x").Err())
	require.NoError(t, pub.Publish(context.Background(), "482913", realtime.AudienceLobby, []byte("second")))
	assert.Equal(t, []byte("second"), receive(t, sub.C))

	require.NoError(t, relay.Close())
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "lq:live:482913:play", realtime.Channel("lq", "482913", realtime.AudiencePlay))
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()

	select {
	case b, ok := <-ch:
		require.True(t, ok, "channel closed")
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
		return nil
	}
}

func assertEmpty(t *testing.T, ch <-chan []byte) {
	t.Helper()

	select {
	case b := <-ch:
		t.Fatalf("unexpected message %s", b)
	default:
	}
}
