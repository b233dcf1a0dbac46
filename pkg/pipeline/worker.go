package pipeline

import (
	"log/slog"
	"time"

	"github.com/wachiwi/tagvision/pkg/config"
	"github.com/wachiwi/tagvision/pkg/vision"
)

// Job is one frame handed to a worker with the config snapshot of its tick.
type Job struct {
	Timestamp time.Time
	Frame     vision.Frame
	Config    config.Remote
}

// Processor turns a job into a pipeline result.
type Processor[R any] interface {
	Process(Job) R
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc[R any] func(Job) R

func (f ProcessorFunc[R]) Process(j Job) R { return f(j) }

// DebugStream is where a worker shows its annotated frames.
type DebugStream interface {
	Viewers() int
	SetFrame(jpeg []byte)
}

// Renderer draws a result onto a copy of the frame and encodes it as JPEG.
type Renderer[R any] func(frame vision.Frame, result R) ([]byte, error)

// Worker owns one pipeline: a single-slot inbound queue, a single-slot
// outbound queue and a goroutine processing one job at a time.
type Worker[R any] struct {
	name      string
	processor Processor[R]
	in        *Slot[Job]
	out       *Slot[R]
	stream    DebugStream
	render    Renderer[R]
}

// NewWorker creates a worker. stream and render may be nil.
func NewWorker[R any](name string, p Processor[R], stream DebugStream, render Renderer[R]) *Worker[R] {
	return &Worker[R]{
		name:      name,
		processor: p,
		in:        NewSlot[Job](),
		out:       NewSlot[R](),
		stream:    stream,
		render:    render,
	}
}

// Name identifies the pipeline in logs and metrics.
func (w *Worker[R]) Name() string {
	return w.name
}

// Start launches the worker goroutine. It runs until the process exits.
func (w *Worker[R]) Start() {
	go w.run()
	slog.Info("pipeline worker started", "pipeline", w.name)
}

// Submit offers a job without blocking. A busy worker keeps its current job
// and the new one is dropped.
func (w *Worker[R]) Submit(j Job) bool {
	if w.in.TryPut(j) {
		count(framesSubmitted, w.name)
		return true
	}
	count(framesDropped, w.name)
	return false
}

// Poll returns the newest unread result, if any.
func (w *Worker[R]) Poll() (R, bool) {
	return w.out.TryTake()
}

// Pending returns the number of queued jobs not yet picked up, 0 or 1.
func (w *Worker[R]) Pending() int {
	return w.in.Len()
}

func (w *Worker[R]) run() {
	for {
		job := w.in.Take()
		ctx, span := startSpan(w.name, job)
		start := time.Now()
		result := w.processor.Process(job)
		if pipelineDuration != nil {
			pipelineDuration.Record(ctx, time.Since(start).Seconds(), pipelineAttr(w.name))
		}
		span.End()
		if w.out.Replace(result) {
			count(resultsReplaced, w.name)
		}
		w.show(job.Frame, result)
	}
}

func (w *Worker[R]) show(frame vision.Frame, result R) {
	if w.stream == nil || w.render == nil || w.stream.Viewers() == 0 {
		return
	}
	jpeg, err := w.render(frame, result)
	if err != nil {
		slog.Warn("failed to render debug frame", "pipeline", w.name, "error", err)
		return
	}
	w.stream.SetFrame(jpeg)
}
