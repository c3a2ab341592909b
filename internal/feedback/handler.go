package feedback

import (
	"context"
	"fmt"

	"github.com/lomolisso/esn-cloud-api/internal/domain"
	"github.com/lomolisso/esn-cloud-api/internal/metrics"

	"go.uber.org/zap"
)

// Outcome reports whether handling a heuristic dispatched a command
type Outcome int

const (
	NoOp Outcome = iota
	Accepted
)

func (o Outcome) String() string {
	if o == Accepted {
		return "accepted"
	}
	return "noop"
}

type Dispatcher interface {
	ResolveTarget(ctx context.Context, gateway string, sensors []string) (domain.CommandTarget, error)
	SetSensorState(ctx context.Context, target domain.CommandTarget, state domain.SensorState) error
	SetInferenceLayer(ctx context.Context, target domain.CommandTarget, layer domain.InferenceLayer) error
}

// Handler turns a heuristic result into a corrective command on the sensor.
type Handler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

func NewHandler(dispatcher Dispatcher, logger *zap.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Handle marks the sensor errored or demotes it to the gateway tier.
// HeuristicNoOp returns NoOp without resolving or dispatching anything.
func (h *Handler) Handle(ctx context.Context, gateway, sensor string, heuristic domain.Heuristic) (Outcome, error) {
	metrics.HeuristicActions.WithLabelValues(heuristic.String()).Inc()

	if heuristic == domain.HeuristicNoOp {
		return NoOp, nil
	}

	target, err := h.dispatcher.ResolveTarget(ctx, gateway, []string{sensor})
	if err != nil {
		return NoOp, fmt.Errorf("resolve feedback target: %w", err)
	}

	switch heuristic {
	case domain.HeuristicError:
		err = h.dispatcher.SetSensorState(ctx, target, domain.SensorStateError)
	case domain.HeuristicDemoteToGateway:
		err = h.dispatcher.SetInferenceLayer(ctx, target, domain.GatewayLayer)
	default:
		return NoOp, fmt.Errorf("unhandled heuristic %d", int(heuristic))
	}
	if err != nil {
		return NoOp, err
	}

	h.logger.Info("[FeedbackHandler] heuristic applied",
		zap.String("gateway", gateway),
		zap.String("sensor", sensor),
		zap.String("action", heuristic.String()))
	return Accepted, nil
}
