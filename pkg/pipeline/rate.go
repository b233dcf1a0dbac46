package pipeline

import (
	"time"

	"github.com/wachiwi/tagvision/pkg/vision"
)

// Throttle limits submissions to maxFPS using frame timestamps. The first
// frame is allowed and the allowed time then advances by one period per
// accepted submission.
type Throttle struct {
	period  time.Duration
	next    time.Time
	started bool
}

// NewThrottle returns a throttle. A negative maxFPS disables it.
func NewThrottle(maxFPS float64) *Throttle {
	t := &Throttle{}
	if maxFPS > 0 {
		t.period = time.Duration(float64(time.Second) / maxFPS)
	}
	return t
}

// Allow reports whether a frame stamped ts may be submitted.
func (t *Throttle) Allow(ts time.Time) bool {
	if t.period <= 0 {
		return true
	}
	if !t.started {
		t.next = ts
		t.started = true
	}
	if ts.Before(t.next) {
		return false
	}
	t.next = t.next.Add(t.period)
	if t.next.Before(ts) {
		// After a stall, restart from now instead of bursting to catch up.
		t.next = ts.Add(t.period)
	}
	return true
}

// FPSCounter counts drained results and reports once per second.
type FPSCounter struct {
	count int
	last  time.Time
}

// Tick records one result. When more than a second has passed since the
// last report it returns the count and resets.
func (c *FPSCounter) Tick(now time.Time) (int, bool) {
	c.count++
	if now.Sub(c.last) <= time.Second {
		return 0, false
	}
	n := c.count
	c.count = 0
	c.last = now
	return n, true
}

// RecordBuffer delays frames so overlays computed later line up better.
type RecordBuffer struct {
	depth  int
	frames []vision.Frame
}

// NewRecordBuffer holds depth frames before releasing the oldest.
func NewRecordBuffer(depth int) *RecordBuffer {
	return &RecordBuffer{depth: depth}
}

// Push appends f and returns the oldest frame once depth frames were held.
func (b *RecordBuffer) Push(f vision.Frame) (vision.Frame, bool) {
	var out vision.Frame
	ok := false
	if len(b.frames) >= b.depth {
		out, ok = b.frames[0], true
		b.frames[0] = vision.Frame{}
		b.frames = b.frames[1:]
	}
	b.frames = append(b.frames, f)
	return out, ok
}

// Clear drops every held frame.
func (b *RecordBuffer) Clear() {
	b.frames = nil
}

// Len returns the number of held frames.
func (b *RecordBuffer) Len() int {
	return len(b.frames)
}
