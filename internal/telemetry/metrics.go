package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Pipeline holds the audio pipeline instruments. A nil *Pipeline is valid and
// records nothing, so callers never need to branch on telemetry being off.
type Pipeline struct {
	framesRouted   metric.Int64Counter
	framesDropped  metric.Int64Counter
	turnsCompleted metric.Int64Counter
	linkRestarts   metric.Int64Counter
	sendFailures   metric.Int64Counter
}

// NewPipeline creates the pipeline instruments on the global meter provider.
func NewPipeline() (*Pipeline, error) {
	meter := otel.Meter("transrouter/pipeline")

	framesRouted, err := meter.Int64Counter("pipeline.frames_routed",
		metric.WithDescription("Captured frames routed to the translation link"))
	if err != nil {
		return nil, err
	}
	framesDropped, err := meter.Int64Counter("pipeline.frames_dropped",
		metric.WithDescription("Reply frames discarded on turn boundaries"))
	if err != nil {
		return nil, err
	}
	turnsCompleted, err := meter.Int64Counter("pipeline.turns_completed",
		metric.WithDescription("Completed translation turns"))
	if err != nil {
		return nil, err
	}
	linkRestarts, err := meter.Int64Counter("pipeline.link_restarts",
		metric.WithDescription("Translation link session restarts"))
	if err != nil {
		return nil, err
	}
	sendFailures, err := meter.Int64Counter("pipeline.send_failures",
		metric.WithDescription("Failed frame sends on the translation link"))
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		framesRouted:   framesRouted,
		framesDropped:  framesDropped,
		turnsCompleted: turnsCompleted,
		linkRestarts:   linkRestarts,
		sendFailures:   sendFailures,
	}, nil
}

func (p *Pipeline) FrameRouted(ctx context.Context) {
	if p != nil {
		p.framesRouted.Add(ctx, 1)
	}
}

func (p *Pipeline) FramesDropped(ctx context.Context, n int) {
	if p != nil && n > 0 {
		p.framesDropped.Add(ctx, int64(n))
	}
}

func (p *Pipeline) TurnCompleted(ctx context.Context) {
	if p != nil {
		p.turnsCompleted.Add(ctx, 1)
	}
}

func (p *Pipeline) LinkRestarted(ctx context.Context) {
	if p != nil {
		p.linkRestarts.Add(ctx, 1)
	}
}

func (p *Pipeline) SendFailed(ctx context.Context) {
	if p != nil {
		p.sendFailures.Add(ctx, 1)
	}
}
