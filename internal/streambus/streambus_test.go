package streambus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_DeliversSnapshotImmediately(t *testing.T) {
	b := New(func() any { return "state" })
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	select {
	case e := <-sub.C:
		assert.Equal(t, TypeSnapshot, e.Type)
		assert.Equal(t, "state", e.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected snapshot envelope on subscribe")
	}
}

func TestPublish_MonotonicIDsAcrossEnvelopes(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.PublishTraceAdded("t1", "a")
	b.PublishTraceUpdated("t1", "b")

	e1 := <-sub.C
	e2 := <-sub.C
	assert.Less(t, e1.ID, e2.ID)
}

func TestPublish_VersionIncrementsPerEntity(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.PublishTraceUpdated("t1", nil)
	b.PublishTraceUpdated("t1", nil)
	b.PublishTraceUpdated("t2", nil)

	e1 := <-sub.C
	e2 := <-sub.C
	e3 := <-sub.C
	assert.Equal(t, 1, e1.Version)
	assert.Equal(t, 2, e2.Version)
	assert.Equal(t, 1, e3.Version, "a different entity has its own version counter")
}

func TestPublish_FanOutToMultipleSubscribers(t *testing.T) {
	b := New(nil)
	a := b.Subscribe()
	c := b.Subscribe()
	defer b.Unsubscribe(a)
	defer b.Unsubscribe(c)

	b.PublishOverviewUpdated("x")

	ea := <-a.C
	ec := <-c.C
	assert.Equal(t, TypeOverviewUpdated, ea.Type)
	assert.Equal(t, TypeOverviewUpdated, ec.Type)
}

func TestPublish_SlowSubscriberDroppedNotBlocked(t *testing.T) {
	b := New(nil)
	slow := b.Subscribe()

	for i := 0; i < subscriberQueueSize+10; i++ {
		b.PublishOverviewUpdated(i)
	}

	// The publishing loop itself must never block on a full subscriber
	// queue; reaching this point at all is the assertion. The slow
	// subscriber should now be unsubscribed (dropped), not still tracked.
	b.mu.Lock()
	_, stillTracked := b.subs[slow]
	b.mu.Unlock()
	assert.False(t, stillTracked)
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()

	b.Unsubscribe(sub)

	_, ok := <-sub.C
	assert.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestClose_DisconnectsAllSubscribers(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()
	b.Close()

	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestRun_EmitsHeartbeatWhenIdle(t *testing.T) {
	b := New(nil)
	b.heartbeat = time.NewTicker(10 * time.Millisecond)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	go func() {
		for {
			select {
			case <-b.stop:
				return
			case <-b.heartbeat.C:
				if time.Since(time.UnixMilli(b.lastPublish.Load())) >= 0 {
					b.publish(TypeHeartbeat, "", nil)
				}
			}
		}
	}()
	defer close(b.stop)

	select {
	case e := <-sub.C:
		require.Equal(t, TypeHeartbeat, e.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a heartbeat envelope")
	}
}
