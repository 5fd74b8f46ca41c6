package pipeline

import (
	"context"
	"log/slog"

	"tessera/internal/collage"
)

// collageProcessor runs jobs through the collage engine. The engine has no
// cancellation points, so ctx is not consulted once a job has started.
type collageProcessor struct {
	runner *collage.Runner
}

// NewCollageProcessor returns the default Processor.
func NewCollageProcessor(logger *slog.Logger) Processor {
	return &collageProcessor{runner: &collage.Runner{Log: logger}}
}

func (c *collageProcessor) Process(_ context.Context, job collage.Job, progress chan<- collage.Progress) Result {
	res, err := c.runner.Run(job, progress)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: &res.Metadata}
}
