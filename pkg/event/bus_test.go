package event

import (
	"sync"
	"testing"
	"time"

	"vmcontroller/pkg/errbuf"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func waitDone(t *testing.T, b *Bus) {
	t.Helper()
	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("bus did not drain")
	}
}

func TestBusDeliversInOrder(t *testing.T) {
	b := NewBus()
	r1, r2 := &recorder{}, &recorder{}
	b.Subscribe(r1)
	b.Subscribe(r2)

	for i := uint64(0); i <= 100; i++ {
		require.True(t, b.Publish(Progress(1, Init, i, 100)))
	}
	require.True(t, b.Publish(Complete(1, Run)))
	b.Close()
	waitDone(t, b)

	for _, r := range []*recorder{r1, r2} {
		events := r.snapshot()
		require.Len(t, events, 102)
		for i := 0; i <= 100; i++ {
			assert.Equal(t, uint64(i), events[i].Current)
		}
		assert.Equal(t, KindComplete, events[101].Kind)
	}
}

func TestBusPublishAfterClose(t *testing.T) {
	b := NewBus()
	r := &recorder{}
	b.Subscribe(r)
	b.Close()
	b.Close()

	assert.False(t, b.Publish(Cancelled(1, Init)))
	waitDone(t, b)
	assert.Empty(t, r.snapshot())

	unsubscribe := b.Subscribe(&recorder{})
	unsubscribe()
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus()
	r := &recorder{}
	unsubscribe := b.Subscribe(r)
	unsubscribe()
	unsubscribe()

	b.Publish(Complete(1, Run))
	b.Close()
	waitDone(t, b)
	assert.Empty(t, r.snapshot())
}

func TestBusSlowObserverDoesNotBlockPublish(t *testing.T) {
	b := NewBus()
	release := make(chan struct{})
	b.Subscribe(ObserverFunc(func(Event) { <-release }))

	published := make(chan struct{})
	go func() {
		for i := uint64(0); i < 1000; i++ {
			b.Publish(Progress(1, Init, i, 1000))
		}
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow observer")
	}
	close(release)
	b.Close()
	waitDone(t, b)
}

func TestBusSurvivesPanickingObserver(t *testing.T) {
	b := NewBus()
	r := &recorder{}
	b.Subscribe(ObserverFunc(func(Event) { panic("observer bug") }))
	b.Subscribe(r)

	b.Publish(Cancelled(1, Init))
	b.Publish(Cancelled(2, Init))
	b.Close()
	waitDone(t, b)
	assert.Len(t, r.snapshot(), 2)
}

func TestFailedSealsBuffer(t *testing.T) {
	buf := errbuf.New()
	require.NoError(t, buf.Add("launch", errors.New("no hypervisor")))

	e := Failed(3, Run, buf)
	assert.True(t, e.Terminal())
	assert.True(t, buf.Sealed())
	assert.Equal(t, "attempt 3: Failed: launch: no hypervisor", e.String())

	empty := Failed(1, Init, nil)
	assert.NotNil(t, empty.Errors)
	assert.True(t, empty.Errors.Sealed())
}

func TestKindTerminal(t *testing.T) {
	assert.False(t, KindProgress.Terminal())
	for _, k := range []Kind{KindComplete, KindCancelled, KindRejectedMemory, KindFailed} {
		assert.True(t, k.Terminal(), k.String())
	}
	assert.Equal(t, "Unknown", Kind(42).String())
}
