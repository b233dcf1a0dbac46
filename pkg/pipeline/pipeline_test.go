package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/tagvision/pkg/vision"
)

func TestSlot(t *testing.T) {
	s := NewSlot[int]()
	assert.True(t, s.TryPut(1))
	assert.False(t, s.TryPut(2), "a full slot refuses new items")
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.Replace(3), "replace discards the unread item")
	v, ok := s.TryTake()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = s.TryTake()
	assert.False(t, ok)
	assert.False(t, s.Replace(4))
	assert.Equal(t, 4, s.Take())
}

func frameOfWidth(w int) vision.Frame {
	return vision.Frame{Width: w, Height: 1, Channels: 1, Data: make([]byte, w)}
}

func TestWorkerQueueBound(t *testing.T) {
	release := make(chan struct{})
	w := NewWorker[int]("test", ProcessorFunc[int](func(j Job) int {
		<-release
		return j.Frame.Width
	}), nil, nil)
	w.Start()

	require.True(t, w.Submit(Job{Frame: frameOfWidth(1)}))
	require.Eventually(t, func() bool { return w.Pending() == 0 }, time.Second, time.Millisecond,
		"worker picks up the first job")

	// The worker is busy: one job may wait, the rest are dropped.
	assert.True(t, w.Submit(Job{Frame: frameOfWidth(2)}))
	for i := 3; i < 10; i++ {
		assert.False(t, w.Submit(Job{Frame: frameOfWidth(i)}))
		assert.Equal(t, 1, w.Pending())
	}

	var got []int
	for range 2 {
		release <- struct{}{}
		var r int
		require.Eventually(t, func() bool {
			var ok bool
			r, ok = w.Poll()
			return ok
		}, time.Second, time.Millisecond)
		got = append(got, r)
	}
	assert.Equal(t, []int{1, 2}, got, "results keep submission order")

	_, ok := w.Poll()
	assert.False(t, ok)
	assert.Equal(t, 0, w.Pending())
}

func TestWorkerReplacesUnreadResult(t *testing.T) {
	done := make(chan struct{}, 4)
	w := NewWorker[int]("test", ProcessorFunc[int](func(j Job) int { return j.Frame.Width }),
		fakeStream{viewers: 1}, func(vision.Frame, int) ([]byte, error) {
			done <- struct{}{}
			return nil, nil
		})
	w.Start()

	for i := 1; i <= 3; i++ {
		require.True(t, w.Submit(Job{Frame: frameOfWidth(i)}))
		<-done
	}
	r, ok := w.Poll()
	require.True(t, ok)
	assert.Equal(t, 3, r, "only the newest result is kept")
	_, ok = w.Poll()
	assert.False(t, ok)
}

type fakeStream struct {
	viewers int
	frames  chan []byte
}

func (s fakeStream) Viewers() int { return s.viewers }

func (s fakeStream) SetFrame(jpeg []byte) {
	if s.frames != nil {
		s.frames <- jpeg
	}
}

func TestWorkerSkipsRenderWithoutViewers(t *testing.T) {
	rendered := make(chan struct{}, 1)
	processed := make(chan struct{}, 1)
	w := NewWorker[int]("test", ProcessorFunc[int](func(j Job) int {
		processed <- struct{}{}
		return 0
	}), fakeStream{}, func(vision.Frame, int) ([]byte, error) {
		rendered <- struct{}{}
		return nil, nil
	})
	w.Start()

	require.True(t, w.Submit(Job{Frame: frameOfWidth(1)}))
	<-processed
	require.Eventually(t, func() bool { _, ok := w.Poll(); return ok }, time.Second, time.Millisecond)
	select {
	case <-rendered:
		t.Fatal("rendered without viewers")
	case <-time.After(20 * time.Millisecond):
	}
}

const tick30Hz = time.Second / 30

func TestThrottle(t *testing.T) {
	th := NewThrottle(10)
	start := time.Unix(1000, 0)

	var allowed []time.Time
	for i := 0; i < 90; i++ {
		ts := start.Add(time.Duration(i) * tick30Hz)
		if th.Allow(ts) {
			allowed = append(allowed, ts)
		}
	}
	require.NotEmpty(t, allowed)
	for i := 1; i < len(allowed); i++ {
		gap := allowed[i].Sub(allowed[i-1])
		assert.GreaterOrEqual(t, gap, 100*time.Millisecond-time.Microsecond, "submission %d", i)
	}
	assert.InDelta(t, 30, len(allowed), 1)
}

func TestThrottleDisabled(t *testing.T) {
	th := NewThrottle(-1)
	ts := time.Unix(1000, 0)
	for i := 0; i < 10; i++ {
		assert.True(t, th.Allow(ts))
	}
}

func TestThrottleAllowsFirstFrame(t *testing.T) {
	th := NewThrottle(10)
	start := time.Unix(1000, 0)
	assert.True(t, th.Allow(start), "the first frame is submitted")
	assert.False(t, th.Allow(start))
	assert.False(t, th.Allow(start.Add(99*time.Millisecond)))
	assert.True(t, th.Allow(start.Add(100*time.Millisecond)), "exactly one period later")
}

func TestThrottleAfterStall(t *testing.T) {
	th := NewThrottle(10)
	start := time.Unix(1000, 0)
	assert.True(t, th.Allow(start))
	assert.False(t, th.Allow(start.Add(time.Millisecond)))

	// Nothing for five seconds, then ticks at 30 Hz resume.
	resume := start.Add(5 * time.Second)
	assert.True(t, th.Allow(resume))
	assert.False(t, th.Allow(resume.Add(tick30Hz)), "no burst after a stall")
	assert.False(t, th.Allow(resume.Add(2*tick30Hz)))
}

func TestFPSCounter(t *testing.T) {
	var c FPSCounter
	start := time.Unix(1000, 0)

	n, ok := c.Tick(start)
	require.True(t, ok, "the first result reports immediately")
	assert.Equal(t, 1, n)

	var reports []int
	for i := 1; i <= 90; i++ {
		if n, ok := c.Tick(start.Add(time.Duration(i) * tick30Hz)); ok {
			reports = append(reports, n)
		}
	}
	assert.Equal(t, []int{31, 31}, reports)
}

func TestRecordBufferDelay(t *testing.T) {
	b := NewRecordBuffer(RecordDelay)
	var written []int
	for i := 1; i <= 4; i++ {
		if out, ok := b.Push(frameOfWidth(i)); ok {
			written = append(written, out.Width)
		}
		if i == 2 {
			assert.Empty(t, written, "nothing is written before the third frame")
		}
		if i == 3 {
			assert.Equal(t, []int{1}, written, "F1 is written when F3 arrives")
		}
	}
	assert.Equal(t, []int{1, 2}, written)
	assert.Equal(t, 2, b.Len())

	b.Clear()
	assert.Equal(t, 0, b.Len())
	_, ok := b.Push(frameOfWidth(5))
	assert.False(t, ok)
}
