package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/wachiwi/tagvision/pkg/pipeline")

var (
	framesSubmitted  metric.Int64Counter
	framesDropped    metric.Int64Counter
	resultsReplaced  metric.Int64Counter
	pipelineDuration metric.Float64Histogram
	pipelineFPS      metric.Int64Gauge
)

func init() {
	var err error
	meter := otel.Meter("github.com/wachiwi/tagvision/pkg/pipeline")
	framesSubmitted, err = meter.Int64Counter("tagvision.frames.submitted",
		metric.WithDescription("Frames accepted by a pipeline worker"),
		metric.WithUnit("{frames}"),
	)
	if err != nil {
		slog.Error("Failed to create pipeline metrics", "error", err)
	}
	framesDropped, err = meter.Int64Counter("tagvision.frames.dropped",
		metric.WithDescription("Frames dropped because the worker was busy"),
		metric.WithUnit("{frames}"),
	)
	if err != nil {
		slog.Error("Failed to create pipeline metrics", "error", err)
	}
	resultsReplaced, err = meter.Int64Counter("tagvision.results.replaced",
		metric.WithDescription("Results overwritten before the dispatcher read them"),
		metric.WithUnit("{results}"),
	)
	if err != nil {
		slog.Error("Failed to create pipeline metrics", "error", err)
	}
	pipelineDuration, err = meter.Float64Histogram("tagvision.pipeline.duration",
		metric.WithDescription("Time spent processing one frame"),
		metric.WithUnit("s"),
	)
	if err != nil {
		slog.Error("Failed to create pipeline metrics", "error", err)
	}
	pipelineFPS, err = meter.Int64Gauge("tagvision.pipeline.fps",
		metric.WithDescription("Results drained per second"),
		metric.WithUnit("{frames}/s"),
	)
	if err != nil {
		slog.Error("Failed to create pipeline metrics", "error", err)
	}
}

func pipelineAttr(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("pipeline", name))
}

func startSpan(name string, j Job) (context.Context, trace.Span) {
	return tracer.Start(context.Background(), name+".process", trace.WithAttributes(
		attribute.String("pipeline", name),
		attribute.Int("frame.width", j.Frame.Width),
		attribute.Int("frame.height", j.Frame.Height),
	))
}

func count(c metric.Int64Counter, name string) {
	if c != nil {
		c.Add(context.Background(), 1, pipelineAttr(name))
	}
}
