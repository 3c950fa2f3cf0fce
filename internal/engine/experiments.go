package engine

import (
	"context"
	"time"

	"github.com/fractal-lba/adaptive/internal/experiment"
	"github.com/fractal-lba/adaptive/pkg/otel"
)

// StartExperiment begins an A/B experiment that concludes itself after duration.
func (e *Engine) StartExperiment(ctx context.Context, name string, variants []string, duration time.Duration) (string, error) {
	_, span := otel.StartSpan(ctx, tracerName, "engine.StartExperiment")
	defer span.End()

	id, err := e.harness.Start(name, variants, duration)
	if err != nil {
		otel.RecordError(span, err, name)
		return "", err
	}
	span.SetAttributes(otel.ExperimentAttributes(id, "")...)
	e.observeExperiments()
	return id, nil
}

// TrackExperiment records an observation; unknown ids are ignored.
func (e *Engine) TrackExperiment(ctx context.Context, id, variant string, obs experiment.Observation) {
	_, span := otel.StartSpan(ctx, tracerName, "engine.TrackExperiment", otel.ExperimentAttributes(id, variant)...)
	defer span.End()

	e.harness.Track(id, variant, obs)
}

// ConcludeExperiment concludes id now instead of waiting for its timer.
func (e *Engine) ConcludeExperiment(ctx context.Context, id string) (experiment.Result, bool) {
	_, span := otel.StartSpan(ctx, tracerName, "engine.ConcludeExperiment", otel.ExperimentAttributes(id, "")...)
	defer span.End()

	res, ok := e.harness.Conclude(id)
	if ok {
		otel.AddEvent(span, "winner", otel.AttrVariant.String(res.Winner))
		e.observeExperiments()
	}
	return res, ok
}

// ExperimentResult returns the running or concluded view of id.
func (e *Engine) ExperimentResult(id string) (experiment.Result, bool) {
	return e.harness.Result(id)
}

// AssignVariant maps subject to a sticky variant of a running experiment.
func (e *Engine) AssignVariant(id, subject string) (string, bool) {
	return e.harness.Assign(id, subject)
}

func (e *Engine) observeExperiments() {
	running, concluded := e.harness.Counts()
	e.metrics.Experiments.WithLabelValues("running").Set(float64(running))
	e.metrics.Experiments.WithLabelValues("concluded").Set(float64(concluded))
}
