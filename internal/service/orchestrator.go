package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lomolisso/esn-cloud-api/internal/config"
	"github.com/lomolisso/esn-cloud-api/internal/domain"
	"github.com/lomolisso/esn-cloud-api/internal/feedback"
	"github.com/lomolisso/esn-cloud-api/internal/metrics"
	"github.com/lomolisso/esn-cloud-api/pkg/utils"

	"go.uber.org/zap"
)

type ReadingStore interface {
	EnsureSensorExists(ctx context.Context, gateway, sensor string) error
	CreateReading(ctx context.Context, gateway, sensor string, reading domain.SensorReading) error
	ReadReading(ctx context.Context, gateway, sensor, readingID string) (*domain.StoredReading, error)
	CreatePredictionResult(ctx context.Context, gateway, sensor, readingID string, result domain.PredictionResult) error
	CreateLatencyBenchmark(ctx context.Context, gateway, sensor string, benchmark domain.InferenceLatencyBenchmark) error
}

type InferenceService interface {
	SubmitPrediction(ctx context.Context, req domain.PredictionRequest) (string, error)
	PollPrediction(ctx context.Context, taskID string) (*domain.TaskStatus, error)
}

type CommandDispatcher interface {
	ResolveTarget(ctx context.Context, gateway string, sensors []string) (domain.CommandTarget, error)
	SetLatencyBenchmark(ctx context.Context, target domain.CommandTarget, benchmark domain.LatencyBenchmarkRequest) error
}

type FeedbackHandler interface {
	Handle(ctx context.Context, gateway, sensor string, heuristic domain.Heuristic) (feedback.Outcome, error)
}

// ExportRecorder keeps an audit trail of finished exports
type ExportRecorder interface {
	SaveExportRecord(ctx context.Context, record *domain.ExportRecord) error
}

type PredictionPublisher interface {
	PublishPrediction(ctx context.Context, event domain.PredictionEvent) error
}

const sideEffectTimeout = 5 * time.Second

// Sleeper suspends for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Orchestrator runs the sensor data export: remote inference for the cloud
// tier, persistence of the reading and its prediction, and the optional
// latency benchmark and heuristic feedback steps.
type Orchestrator struct {
	cfg       config.InferenceConfig
	store     ReadingStore
	inference InferenceService
	commands  CommandDispatcher
	feedback  FeedbackHandler
	recorder  ExportRecorder
	publisher PredictionPublisher
	sleep     Sleeper
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Orchestrator)

func WithRecorder(r ExportRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithPublisher(p PredictionPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(
	cfg config.InferenceConfig,
	store ReadingStore,
	inference InferenceService,
	commands CommandDispatcher,
	feedback FeedbackHandler,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		store:     store,
		inference: inference,
		commands:  commands,
		feedback:  feedback,
		sleep:     sleepContext,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Export processes one sensor data export. The descriptor inside export is
// updated in place with the cloud prediction. Any collaborator error aborts
// the export; writes already made are not rolled back.
func (o *Orchestrator) Export(ctx context.Context, export *domain.SensorDataExport) (*domain.ExportResult, error) {
	if export == nil {
		return nil, domain.NewInvalidRequest("empty export")
	}
	start := o.now()

	result, err := o.export(ctx, export)

	o.finish(ctx, export, result, err, start)
	return result, err
}

func (o *Orchestrator) export(ctx context.Context, export *domain.SensorDataExport) (*domain.ExportResult, error) {
	if err := validateExport(export); err != nil {
		return nil, err
	}

	gateway, sensor := export.Metadata.GatewayName, export.Metadata.SensorName
	reading := &export.ExportValue.Reading
	descriptor := &export.ExportValue.InferenceDescriptor

	if err := o.store.EnsureSensorExists(ctx, gateway, sensor); err != nil {
		return nil, err
	}

	heuristic := domain.HeuristicNoOp
	if descriptor.InferenceLayer == domain.CloudLayer {
		taskResult, err := o.resolveRemote(ctx, export)
		if err != nil {
			return nil, err
		}

		descriptor.Prediction = &taskResult.PredictionResult
		if taskResult.RecvTimestamp != nil {
			descriptor.RecvTimestamp = taskResult.RecvTimestamp
		}
		if taskResult.InferenceLatency != nil {
			descriptor.InferenceLatency = taskResult.InferenceLatency
		}
		heuristic = domain.DecodeHeuristic(taskResult.HeuristicResult)
	}

	if err := o.store.CreateReading(ctx, gateway, sensor, *reading); err != nil {
		return nil, err
	}

	prediction := domain.PredictionResult{
		Prediction:     *descriptor.Prediction,
		InferenceLayer: descriptor.InferenceLayer,
	}
	if err := o.store.CreatePredictionResult(ctx, gateway, sensor, reading.UUID, prediction); err != nil {
		return nil, err
	}

	if o.cfg.LatencyBenchmark {
		if err := o.benchmark(ctx, export); err != nil {
			return nil, err
		}
	}

	if descriptor.InferenceLayer == domain.CloudLayer && o.cfg.AdaptiveInference {
		if _, err := o.feedback.Handle(ctx, gateway, sensor, heuristic); err != nil {
			return nil, err
		}
	}

	return &domain.ExportResult{
		ReadingUUID:    reading.UUID,
		InferenceLayer: prediction.InferenceLayer,
		Prediction:     prediction.Prediction,
	}, nil
}

// resolveRemote submits the prediction request and polls the task until it
// succeeds or fails, bounded by the configured polling timeout.
func (o *Orchestrator) resolveRemote(ctx context.Context, export *domain.SensorDataExport) (*domain.TaskResult, error) {
	taskID, err := o.inference.SubmitPrediction(ctx, domain.PredictionRequest{
		Metadata:    export.Metadata,
		ExportValue: export.ExportValue,
	})
	if err != nil {
		return nil, err
	}

	pollCtx := ctx
	if o.cfg.PollingTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, o.cfg.PollingTimeout)
		defer cancel()
	}

	result, attempts, err := o.poll(pollCtx, taskID)
	metrics.PollAttempts.Observe(float64(attempts))
	if err != nil {
		if ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
			return nil, &domain.ServiceError{
				Kind:       domain.KindTaskTimeout,
				Op:         "poll prediction task " + taskID,
				StatusCode: http.StatusGatewayTimeout,
				Err:        fmt.Errorf("no result after %d polls within %s", attempts, o.cfg.PollingTimeout),
			}
		}
		return nil, err
	}

	o.logger.Debug("[Orchestrator] prediction task resolved",
		zap.String("task_id", taskID),
		zap.Int("polls", attempts),
		zap.Int("prediction", result.PredictionResult))
	return result, nil
}

// poll queries the task until SUCCESS or FAILURE, sleeping between attempts.
// Any other status counts as pending.
func (o *Orchestrator) poll(ctx context.Context, taskID string) (*domain.TaskResult, int, error) {
	for attempt := 1; ; attempt++ {
		status, err := o.inference.PollPrediction(ctx, taskID)
		if err != nil {
			return nil, attempt, err
		}

		switch status.Status {
		case domain.TaskSuccess:
			if status.Result == nil {
				return nil, attempt, &domain.ServiceError{
					Kind:       domain.KindTaskFailed,
					Op:         "poll prediction task " + taskID,
					StatusCode: http.StatusInternalServerError,
					Err:        errors.New("task succeeded without a result"),
				}
			}
			return status.Result, attempt, nil
		case domain.TaskFailure:
			return nil, attempt, &domain.ServiceError{
				Kind:       domain.KindTaskFailed,
				Op:         "poll prediction task " + taskID,
				StatusCode: http.StatusInternalServerError,
			}
		}

		if err := o.sleep(ctx, o.cfg.PollingInterval); err != nil {
			return nil, attempt, err
		}
	}
}

// benchmark records the latency of the prediction round trip. The sensor tier
// reports its own timestamps; the cloud tier persists them when the result
// carried a receive time and otherwise asks the gateway to measure receipt.
// Gateway tier latency is handled by the gateway. The latency itself is
// passed through as reported.
func (o *Orchestrator) benchmark(ctx context.Context, export *domain.SensorDataExport) error {
	gateway, sensor := export.Metadata.GatewayName, export.Metadata.SensorName
	d := export.ExportValue.InferenceDescriptor

	switch d.InferenceLayer {
	case domain.SensorLayer, domain.CloudLayer:
		if d.SendTimestamp != nil && d.RecvTimestamp != nil {
			return o.store.CreateLatencyBenchmark(ctx, gateway, sensor, domain.InferenceLatencyBenchmark{
				SendTimestamp:    *d.SendTimestamp,
				RecvTimestamp:    *d.RecvTimestamp,
				InferenceLatency: d.InferenceLatency,
			})
		}
	default:
		return nil
	}

	if d.InferenceLayer == domain.CloudLayer && d.SendTimestamp != nil {
		target, err := o.commands.ResolveTarget(ctx, gateway, []string{sensor})
		if err != nil {
			return err
		}
		return o.commands.SetLatencyBenchmark(ctx, target, domain.LatencyBenchmarkRequest{
			SensorName:     sensor,
			ReadingUUID:    export.ExportValue.Reading.UUID,
			InferenceLayer: domain.CloudLayer,
			SendTimestamp:  *d.SendTimestamp,
		})
	}

	o.logger.Warn("[Orchestrator] latency benchmark skipped, descriptor is incomplete",
		zap.String("gateway", gateway),
		zap.String("sensor", sensor),
		zap.String("layer", d.InferenceLayer.String()),
		zap.String("reading_uuid", export.ExportValue.Reading.UUID))
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, export *domain.SensorDataExport, result *domain.ExportResult, err error, start time.Time) {
	duration := o.now().Sub(start)
	layer := export.ExportValue.InferenceDescriptor.InferenceLayer

	record := &domain.ExportRecord{
		ReadingUUID:    export.ExportValue.Reading.UUID,
		GatewayName:    export.Metadata.GatewayName,
		SensorName:     export.Metadata.SensorName,
		InferenceLayer: layer,
		Prediction:     export.ExportValue.InferenceDescriptor.Prediction,
		Outcome:        domain.OutcomeSuccess,
		DurationMs:     duration.Milliseconds(),
		CreatedAt:      start.UTC(),
	}

	if err != nil {
		record.Outcome = domain.OutcomeFailure
		record.ErrorKind = string(domain.KindOf(err))
		o.logger.Error("[Orchestrator] export failed",
			zap.String("gateway", record.GatewayName),
			zap.String("sensor", record.SensorName),
			zap.String("layer", layer.String()),
			zap.String("reading_uuid", record.ReadingUUID),
			zap.Error(err))
	} else {
		o.logger.Info("[Orchestrator] export processed successfully",
			zap.String("gateway", record.GatewayName),
			zap.String("sensor", record.SensorName),
			zap.String("layer", layer.String()),
			zap.String("reading_uuid", record.ReadingUUID),
			zap.Int("prediction", result.Prediction),
			zap.Duration("processing_time", duration))
	}

	metrics.ExportsTotal.WithLabelValues(layer.String(), record.Outcome).Inc()
	metrics.ExportDuration.WithLabelValues(layer.String()).Observe(duration.Seconds())

	// audit and events outlive the caller but not a stuck collaborator
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if o.recorder != nil {
		if err := o.recorder.SaveExportRecord(bg, record); err != nil {
			o.logger.Warn("[Orchestrator] failed to record export", zap.String("reading_uuid", record.ReadingUUID), zap.Error(err))
		}
	}

	if o.publisher != nil && err == nil {
		event := domain.PredictionEvent{
			GatewayName:    record.GatewayName,
			SensorName:     record.SensorName,
			ReadingUUID:    result.ReadingUUID,
			InferenceLayer: result.InferenceLayer,
			Prediction:     result.Prediction,
			Timestamp:      o.now().UTC(),
		}
		if err := o.publisher.PublishPrediction(bg, event); err != nil {
			o.logger.Warn("[Orchestrator] failed to publish prediction", zap.String("reading_uuid", record.ReadingUUID), zap.Error(err))
		}
	}
}

func validateExport(export *domain.SensorDataExport) error {
	if export.Metadata.GatewayName == "" || export.Metadata.SensorName == "" {
		return domain.NewInvalidRequest("gateway_name and sensor_name are required")
	}

	descriptor := export.ExportValue.InferenceDescriptor
	if !descriptor.InferenceLayer.Valid() {
		return domain.NewInvalidRequest("invalid inference layer %d", int(descriptor.InferenceLayer))
	}
	if descriptor.InferenceLayer != domain.CloudLayer && descriptor.Prediction == nil {
		return domain.NewInvalidRequest("%s layer export carries no prediction", descriptor.InferenceLayer)
	}

	return prepareReading(&export.ExportValue.Reading)
}

// prepareReading validates the reading and assigns a uuid when the caller sent
// none. A caller supplied id is opaque and kept as is.
func prepareReading(reading *domain.SensorReading) error {
	if len(reading.Values) == 0 {
		return domain.NewInvalidRequest("reading has no values")
	}
	if reading.UUID == "" {
		reading.UUID = utils.NewUUID().String()
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
