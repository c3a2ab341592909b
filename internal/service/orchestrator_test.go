package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/lomolisso/esn-cloud-api/internal/config"
	"github.com/lomolisso/esn-cloud-api/internal/domain"
	"github.com/lomolisso/esn-cloud-api/internal/feedback"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) EnsureSensorExists(ctx context.Context, gateway, sensor string) error {
	args := m.Called(ctx, gateway, sensor)
	return args.Error(0)
}

func (m *MockStore) CreateReading(ctx context.Context, gateway, sensor string, reading domain.SensorReading) error {
	args := m.Called(ctx, gateway, sensor, reading)
	return args.Error(0)
}

func (m *MockStore) ReadReading(ctx context.Context, gateway, sensor, readingID string) (*domain.StoredReading, error) {
	args := m.Called(ctx, gateway, sensor, readingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StoredReading), args.Error(1)
}

func (m *MockStore) CreatePredictionResult(ctx context.Context, gateway, sensor, readingID string, result domain.PredictionResult) error {
	args := m.Called(ctx, gateway, sensor, readingID, result)
	return args.Error(0)
}

func (m *MockStore) CreateLatencyBenchmark(ctx context.Context, gateway, sensor string, benchmark domain.InferenceLatencyBenchmark) error {
	args := m.Called(ctx, gateway, sensor, benchmark)
	return args.Error(0)
}

type MockInference struct {
	mock.Mock
}

func (m *MockInference) SubmitPrediction(ctx context.Context, req domain.PredictionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockInference) PollPrediction(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TaskStatus), args.Error(1)
}

type MockCommands struct {
	mock.Mock
}

func (m *MockCommands) ResolveTarget(ctx context.Context, gateway string, sensors []string) (domain.CommandTarget, error) {
	args := m.Called(ctx, gateway, sensors)
	return args.Get(0).(domain.CommandTarget), args.Error(1)
}

func (m *MockCommands) SetLatencyBenchmark(ctx context.Context, target domain.CommandTarget, benchmark domain.LatencyBenchmarkRequest) error {
	args := m.Called(ctx, target, benchmark)
	return args.Error(0)
}

type MockFeedback struct {
	mock.Mock
}

func (m *MockFeedback) Handle(ctx context.Context, gateway, sensor string, heuristic domain.Heuristic) (feedback.Outcome, error) {
	args := m.Called(ctx, gateway, sensor, heuristic)
	return args.Get(0).(feedback.Outcome), args.Error(1)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) SaveExportRecord(ctx context.Context, record *domain.ExportRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishPrediction(ctx context.Context, event domain.PredictionEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type fixture struct {
	store     *MockStore
	inference *MockInference
	commands  *MockCommands
	feedback  *MockFeedback
	sleeps    []time.Duration
}

func newFixture() *fixture {
	return &fixture{
		store:     new(MockStore),
		inference: new(MockInference),
		commands:  new(MockCommands),
		feedback:  new(MockFeedback),
	}
}

// orchestrator records sleeps instead of waiting
func (f *fixture) orchestrator(cfg config.InferenceConfig, opts ...Option) *Orchestrator {
	opts = append([]Option{WithSleeper(func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	})}, opts...)
	return NewOrchestrator(cfg, f.store, f.inference, f.commands, f.feedback, zap.NewNop(), opts...)
}

func (f *fixture) expectPersistence() {
	f.store.On("EnsureSensorExists", mock.Anything, "gw-1", "s-1").Return(nil)
	f.store.On("CreateReading", mock.Anything, "gw-1", "s-1", mock.Anything).Return(nil)
	f.store.On("CreatePredictionResult", mock.Anything, "gw-1", "s-1", mock.Anything, mock.Anything).Return(nil)
}

func i64(v int64) *int64 { return &v }
func intp(v int) *int    { return &v }

const readingID = "7f1c2d3e-4b5a-4c6d-8e9f-0a1b2c3d4e5f"

func newExport(layer domain.InferenceLayer) *domain.SensorDataExport {
	return &domain.SensorDataExport{
		Metadata: domain.Metadata{GatewayName: "gw-1", SensorName: "s-1"},
		ExportValue: domain.SensorDataRecord{
			Reading: domain.SensorReading{UUID: readingID, Values: [][]float64{{1, 2}, {3, 4}}},
			InferenceDescriptor: domain.InferenceDescriptor{
				InferenceLayer: layer,
				SendTimestamp:  i64(1000),
			},
		},
	}
}

func pending() *domain.TaskStatus {
	return &domain.TaskStatus{TaskID: "task-1", Status: domain.TaskPending}
}

func succeeded(prediction int, heuristic *int) *domain.TaskStatus {
	return &domain.TaskStatus{
		TaskID: "task-1",
		Status: domain.TaskSuccess,
		Result: &domain.TaskResult{PredictionResult: prediction, HeuristicResult: heuristic},
	}
}

var defaultCfg = config.InferenceConfig{
	AdaptiveInference: true,
	PollingInterval:   100 * time.Millisecond,
}

func TestOrchestrator_CloudPollsUntilSuccess(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(defaultCfg)
	f.expectPersistence()

	f.inference.On("SubmitPrediction", mock.Anything, mock.Anything).Return("task-1", nil)
	f.inference.On("PollPrediction", mock.Anything, "task-1").Return(pending(), nil).Times(3)
	f.inference.On("PollPrediction", mock.Anything, "task-1").Return(succeeded(3, intp(99)), nil).Once()
	f.feedback.On("Handle", mock.Anything, "gw-1", "s-1", domain.HeuristicNoOp).Return(feedback.NoOp, nil)

	export := newExport(domain.CloudLayer)
	result, err := o.Export(context.Background(), export)

	require.NoError(t, err)
	assert.Equal(t, &domain.ExportResult{ReadingUUID: readingID, InferenceLayer: domain.CloudLayer, Prediction: 3}, result)

	f.inference.AssertNumberOfCalls(t, "PollPrediction", 4)
	require.Len(t, f.sleeps, 3)
	for _, d := range f.sleeps {
		assert.GreaterOrEqual(t, d, defaultCfg.PollingInterval)
	}

	require.NotNil(t, export.ExportValue.InferenceDescriptor.Prediction)
	assert.Equal(t, 3, *export.ExportValue.InferenceDescriptor.Prediction)
	f.store.AssertCalled(t, "CreatePredictionResult", mock.Anything, "gw-1", "s-1", readingID,
		domain.PredictionResult{Prediction: 3, InferenceLayer: domain.CloudLayer})
	f.feedback.AssertExpectations(t)
}

func TestOrchestrator_CloudSubmitsFullExport(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(config.InferenceConfig{PollingInterval: time.Millisecond})
	f.expectPersistence()

	export := newExport(domain.CloudLayer)
	f.inference.On("SubmitPrediction", mock.Anything, domain.PredictionRequest{
		Metadata:    export.Metadata,
		ExportValue: export.ExportValue,
	}).Return("task-1", nil)
	f.inference.On("PollPrediction", mock.Anything, "task-1").Return(succeeded(0, nil), nil)

	_, err := o.Export(context.Background(), export)

	require.NoError(t, err)
	f.inference.AssertExpectations(t)
	f.feedback.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_TaskFailureStopsBeforePersistence(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(defaultCfg)

	f.store.On("EnsureSensorExists", mock.Anything, "gw-1", "s-1").Return(nil)
	f.inference.On("SubmitPrediction", mock.Anything, mock.Anything).Return("task-1", nil)
	f.inference.On("PollPrediction", mock.Anything, "task-1").Return(pending(), nil).Once()
	f.inference.On("PollPrediction", mock.Anything, "task-1").
		Return(&domain.TaskStatus{TaskID: "task-1", Status: domain.TaskFailure}, nil).Once()

	_, err := o.Export(context.Background(), newExport(domain.CloudLayer))

	require.True(t, errors.Is(err, domain.ErrTaskFailed))
	var se *domain.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)

	f.store.AssertNotCalled(t, "CreateReading", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "CreatePredictionResult", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.feedback.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_PollingTimeout(t *testing.T) {
	f := newFixture()
	o := NewOrchestrator(config.InferenceConfig{
		PollingInterval: 5 * time.Millisecond,
		PollingTimeout:  30 * time.Millisecond,
	}, f.store, f.inference, f.commands, f.feedback, zap.NewNop())

	f.store.On("EnsureSensorExists", mock.Anything, "gw-1", "s-1").Return(nil)
	f.inference.On("SubmitPrediction", mock.Anything, mock.Anything).Return("task-1", nil)
	f.inference.On("PollPrediction", mock.Anything, "task-1").Return(pending(), nil)

	_, err := o.Export(context.Background(), newExport(domain.CloudLayer))

	require.True(t, errors.Is(err, domain.ErrTaskTimeout))
	var se *domain.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusGatewayTimeout, se.StatusCode)
	f.store.AssertNotCalled(t, "CreateReading", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_CallerCancellationIsNotTimeout(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(defaultCfg)

	ctx, cancel := context.WithCancel(context.Background())
	o.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	f.store.On("EnsureSensorExists", mock.Anything, "gw-1", "s-1").Return(nil)
	f.inference.On("SubmitPrediction", mock.Anything, mock.Anything).Return("task-1", nil)
	f.inference.On("PollPrediction", mock.Anything, "task-1").Return(pending(), nil)

	_, err := o.Export(ctx, newExport(domain.CloudLayer))

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, domain.ErrTaskTimeout))
}

func TestOrchestrator_CloudMissingSensorBeforeSubmit(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(defaultCfg)

	f.store.On("EnsureSensorExists", mock.Anything, "gw-1", "s-1").
		Return(&domain.ServiceError{Kind: domain.KindNotFound, StatusCode: http.StatusNotFound})

	_, err := o.Export(context.Background(), newExport(domain.CloudLayer))

	assert.True(t, errors.Is(err, domain.ErrNotFound))
	f.inference.AssertNotCalled(t, "SubmitPrediction", mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "CreateReading", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_SensorExportEndToEnd(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(config.InferenceConfig{LatencyBenchmark: true, AdaptiveInference: true})
	f.expectPersistence()

	benchmark := domain.InferenceLatencyBenchmark{SendTimestamp: 1000, RecvTimestamp: 1500, InferenceLatency: i64(20)}
	f.store.On("CreateLatencyBenchmark", mock.Anything, "gw-1", "s-1", benchmark).Return(nil)

	export := newExport(domain.SensorLayer)
	export.ExportValue.Reading.UUID = ""
	export.ExportValue.InferenceDescriptor.Prediction = intp(1)
	export.ExportValue.InferenceDescriptor.RecvTimestamp = i64(1500)
	export.ExportValue.InferenceDescriptor.InferenceLatency = i64(20)

	result, err := o.Export(context.Background(), export)

	require.NoError(t, err)
	assert.NotEmpty(t, result.ReadingUUID)
	assert.Equal(t, 1, result.Prediction)

	f.store.AssertCalled(t, "CreateReading", mock.Anything, "gw-1", "s-1",
		domain.SensorReading{UUID: result.ReadingUUID, Values: [][]float64{{1, 2}, {3, 4}}})
	f.store.AssertCalled(t, "CreatePredictionResult", mock.Anything, "gw-1", "s-1", result.ReadingUUID,
		domain.PredictionResult{Prediction: 1, InferenceLayer: domain.SensorLayer})
	f.store.AssertExpectations(t)
	f.inference.AssertNotCalled(t, "SubmitPrediction", mock.Anything, mock.Anything)
	f.feedback.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_SensorBenchmarkWithoutLatency(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(config.InferenceConfig{LatencyBenchmark: true})
	f.expectPersistence()

	f.store.On("CreateLatencyBenchmark", mock.Anything, "gw-1", "s-1", domain.InferenceLatencyBenchmark{
		SendTimestamp: 1000, RecvTimestamp: 1500,
	}).Return(nil).Once()

	export := newExport(domain.SensorLayer)
	export.ExportValue.InferenceDescriptor.Prediction = intp(1)
	export.ExportValue.InferenceDescriptor.RecvTimestamp = i64(1500)

	_, err := o.Export(context.Background(), export)

	require.NoError(t, err)
	f.store.AssertNumberOfCalls(t, "CreateLatencyBenchmark", 1)
	f.commands.AssertNotCalled(t, "SetLatencyBenchmark", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_SensorBenchmarkSkippedWhenIncomplete(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(config.InferenceConfig{LatencyBenchmark: true})
	f.expectPersistence()

	export := newExport(domain.SensorLayer)
	export.ExportValue.InferenceDescriptor.Prediction = intp(0)

	_, err := o.Export(context.Background(), export)

	require.NoError(t, err)
	f.store.AssertNotCalled(t, "CreateLatencyBenchmark", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.commands.AssertNotCalled(t, "SetLatencyBenchmark", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_BenchmarkDisabled(t *testing.T) {
	for _, layer := range []domain.InferenceLayer{domain.SensorLayer, domain.GatewayLayer, domain.CloudLayer} {
		t.Run(layer.String(), func(t *testing.T) {
			f := newFixture()
			o := f.orchestrator(config.InferenceConfig{PollingInterval: time.Millisecond})
			f.expectPersistence()

			export := newExport(layer)
			export.ExportValue.InferenceDescriptor.RecvTimestamp = i64(1500)
			export.ExportValue.InferenceDescriptor.InferenceLatency = i64(20)
			if layer != domain.CloudLayer {
				export.ExportValue.InferenceDescriptor.Prediction = intp(2)
			}
			f.inference.On("SubmitPrediction", mock.Anything, mock.Anything).Return("task-1", nil)
			f.inference.On("PollPrediction", mock.Anything, "task-1").Return(succeeded(2, nil), nil)

			_, err := o.Export(context.Background(), export)

			require.NoError(t, err)
			f.store.AssertNotCalled(t, "CreateLatencyBenchmark", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			f.commands.AssertNotCalled(t, "ResolveTarget", mock.Anything, mock.Anything, mock.Anything)
			f.commands.AssertNotCalled(t, "SetLatencyBenchmark", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestOrchestrator_GatewayTierHasNoBenchmark(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(config.InferenceConfig{LatencyBenchmark: true, AdaptiveInference: true})
	f.expectPersistence()

	export := newExport(domain.GatewayLayer)
	export.ExportValue.InferenceDescriptor.Prediction = intp(4)
	export.ExportValue.InferenceDescriptor.RecvTimestamp = i64(1500)
	export.ExportValue.InferenceDescriptor.InferenceLatency = i64(20)

	_, err := o.Export(context.Background(), export)

	require.NoError(t, err)
	f.store.AssertNotCalled(t, "CreateLatencyBenchmark", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.feedback.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_CloudBenchmarkDelegatedToGateway(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(config.InferenceConfig{LatencyBenchmark: true, PollingInterval: time.Millisecond})
	f.expectPersistence()

	target := domain.CommandTarget{GatewayName: "gw-1", URL: "http://gw.local", TargetSensors: []string{"s-1"}}
	f.inference.On("SubmitPrediction", mock.Anything, mock.Anything).Return("task-1", nil)
	f.inference.On("PollPrediction", mock.Anything, "task-1").Return(succeeded(1, nil), nil)
	f.commands.On("ResolveTarget", mock.Anything, "gw-1", []string{"s-1"}).Return(target, nil)
	f.commands.On("SetLatencyBenchmark", mock.Anything, target, domain.LatencyBenchmarkRequest{
		SensorName:     "s-1",
		ReadingUUID:    readingID,
		InferenceLayer: domain.CloudLayer,
		SendTimestamp:  1000,
	}).Return(nil)

	_, err := o.Export(context.Background(), newExport(domain.CloudLayer))

	require.NoError(t, err)
	f.commands.AssertExpectations(t)
	f.store.AssertNotCalled(t, "CreateLatencyBenchmark", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_CloudBenchmarkFromTaskResult(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(config.InferenceConfig{LatencyBenchmark: true, PollingInterval: time.Millisecond})
	f.expectPersistence()

	status := succeeded(1, nil)
	status.Result.RecvTimestamp = i64(1800)
	status.Result.InferenceLatency = i64(35)
	f.inference.On("SubmitPrediction", mock.Anything, mock.Anything).Return("task-1", nil)
	f.inference.On("PollPrediction", mock.Anything, "task-1").Return(status, nil)
	f.store.On("CreateLatencyBenchmark", mock.Anything, "gw-1", "s-1", domain.InferenceLatencyBenchmark{
		SendTimestamp: 1000, RecvTimestamp: 1800, InferenceLatency: i64(35),
	}).Return(nil)

	_, err := o.Export(context.Background(), newExport(domain.CloudLayer))

	require.NoError(t, err)
	f.store.AssertExpectations(t)
	f.commands.AssertNotCalled(t, "SetLatencyBenchmark", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_HeuristicForwardedToFeedback(t *testing.T) {
	tests := []struct {
		name     string
		code     *int
		expected domain.Heuristic
	}{
		{"error sentinel", intp(domain.HeuristicErrorCode), domain.HeuristicError},
		{"gateway demotion", intp(int(domain.GatewayLayer)), domain.HeuristicDemoteToGateway},
		{"absent", nil, domain.HeuristicNoOp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			o := f.orchestrator(defaultCfg)
			f.expectPersistence()

			f.inference.On("SubmitPrediction", mock.Anything, mock.Anything).Return("task-1", nil)
			f.inference.On("PollPrediction", mock.Anything, "task-1").Return(succeeded(0, tt.code), nil)
			f.feedback.On("Handle", mock.Anything, "gw-1", "s-1", tt.expected).Return(feedback.Accepted, nil).Once()

			_, err := o.Export(context.Background(), newExport(domain.CloudLayer))

			require.NoError(t, err)
			f.feedback.AssertExpectations(t)
		})
	}
}

func TestOrchestrator_FeedbackFailureFailsExport(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(defaultCfg)
	f.expectPersistence()

	f.inference.On("SubmitPrediction", mock.Anything, mock.Anything).Return("task-1", nil)
	f.inference.On("PollPrediction", mock.Anything, "task-1").Return(succeeded(0, intp(-1)), nil)
	f.feedback.On("Handle", mock.Anything, "gw-1", "s-1", domain.HeuristicError).
		Return(feedback.NoOp, &domain.ServiceError{Kind: domain.KindUpstreamRejected, StatusCode: http.StatusServiceUnavailable})

	_, err := o.Export(context.Background(), newExport(domain.CloudLayer))

	assert.True(t, errors.Is(err, domain.ErrUpstreamRejected))
}

func TestOrchestrator_InvalidExports(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *domain.SensorDataExport)
	}{
		{"unknown layer", func(e *domain.SensorDataExport) { e.ExportValue.InferenceDescriptor.InferenceLayer = 5 }},
		{"gateway tier without prediction", func(e *domain.SensorDataExport) {
			e.ExportValue.InferenceDescriptor.InferenceLayer = domain.GatewayLayer
		}},
		{"empty values", func(e *domain.SensorDataExport) { e.ExportValue.Reading.Values = nil }},
		{"missing sensor name", func(e *domain.SensorDataExport) { e.Metadata.SensorName = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			o := f.orchestrator(defaultCfg)

			export := newExport(domain.CloudLayer)
			tt.mutate(export)

			_, err := o.Export(context.Background(), export)

			assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
			f.store.AssertNotCalled(t, "EnsureSensorExists", mock.Anything, mock.Anything, mock.Anything)
			f.inference.AssertNotCalled(t, "SubmitPrediction", mock.Anything, mock.Anything)
		})
	}
}

func TestOrchestrator_OpaqueReadingIDIsKept(t *testing.T) {
	f := newFixture()
	recorder := new(MockRecorder)
	o := f.orchestrator(config.InferenceConfig{}, WithRecorder(recorder))
	f.expectPersistence()
	recorder.On("SaveExportRecord", mock.Anything, mock.MatchedBy(func(r *domain.ExportRecord) bool {
		return r.ReadingUUID == "reading-0042" && r.Outcome == domain.OutcomeSuccess
	})).Return(nil)

	export := newExport(domain.GatewayLayer)
	export.ExportValue.Reading.UUID = "reading-0042"
	export.ExportValue.InferenceDescriptor.Prediction = intp(3)

	result, err := o.Export(context.Background(), export)

	require.NoError(t, err)
	assert.Equal(t, "reading-0042", result.ReadingUUID)
	f.store.AssertCalled(t, "CreateReading", mock.Anything, "gw-1", "s-1",
		domain.SensorReading{UUID: "reading-0042", Values: [][]float64{{1, 2}, {3, 4}}})
	recorder.AssertExpectations(t)
}

func TestOrchestrator_RecordsAndPublishes(t *testing.T) {
	f := newFixture()
	recorder := new(MockRecorder)
	publisher := new(MockPublisher)
	o := f.orchestrator(config.InferenceConfig{}, WithRecorder(recorder), WithPublisher(publisher))
	f.expectPersistence()

	recorder.On("SaveExportRecord", mock.Anything, mock.MatchedBy(func(r *domain.ExportRecord) bool {
		return r.ReadingUUID == readingID && r.Outcome == domain.OutcomeSuccess && r.ErrorKind == "" &&
			r.Prediction != nil && *r.Prediction == 6
	})).Return(errors.New("database is down"))
	publisher.On("PublishPrediction", mock.Anything, mock.MatchedBy(func(e domain.PredictionEvent) bool {
		return e.GatewayName == "gw-1" && e.SensorName == "s-1" && e.Prediction == 6 && e.InferenceLayer == domain.SensorLayer
	})).Return(nil)

	export := newExport(domain.SensorLayer)
	export.ExportValue.InferenceDescriptor.Prediction = intp(6)

	_, err := o.Export(context.Background(), export)

	require.NoError(t, err, "audit failures must not fail the export")
	recorder.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestOrchestrator_FailedExportIsRecordedNotPublished(t *testing.T) {
	f := newFixture()
	recorder := new(MockRecorder)
	publisher := new(MockPublisher)
	o := f.orchestrator(defaultCfg, WithRecorder(recorder), WithPublisher(publisher))

	f.store.On("EnsureSensorExists", mock.Anything, "gw-1", "s-1").
		Return(&domain.ServiceError{Kind: domain.KindNotFound, StatusCode: http.StatusNotFound})
	recorder.On("SaveExportRecord", mock.Anything, mock.MatchedBy(func(r *domain.ExportRecord) bool {
		return r.Outcome == domain.OutcomeFailure && r.ErrorKind == string(domain.KindNotFound)
	})).Return(nil)

	_, err := o.Export(context.Background(), newExport(domain.CloudLayer))

	require.Error(t, err)
	recorder.AssertExpectations(t)
	publisher.AssertNotCalled(t, "PublishPrediction", mock.Anything, mock.Anything)
}

func TestOrchestrator_ExportReading(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(defaultCfg)
	f.store.On("CreateReading", mock.Anything, "gw-1", "s-1", mock.AnythingOfType("domain.SensorReading")).Return(nil)

	id, err := o.ExportReading(context.Background(), &domain.SensorReadingExport{
		Metadata:    domain.Metadata{GatewayName: "gw-1", SensorName: "s-1"},
		ExportValue: domain.SensorReading{Values: [][]float64{{0.5}}},
	})

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	f.store.AssertExpectations(t)
}

func TestOrchestrator_ExportLatencyBenchmark(t *testing.T) {
	export := &domain.LatencyBenchmarkExport{
		Metadata: domain.Metadata{GatewayName: "gw-1", SensorName: "s-1"},
		ExportValue: domain.ReadingLatencyBenchmark{
			ReadingUUID: readingID,
			InferenceLatencyBenchmark: domain.InferenceLatencyBenchmark{
				SendTimestamp: 1000, RecvTimestamp: 1450, InferenceLatency: i64(12),
			},
		},
	}

	t.Run("enabled", func(t *testing.T) {
		f := newFixture()
		o := f.orchestrator(config.InferenceConfig{LatencyBenchmark: true})
		f.store.On("ReadReading", mock.Anything, "gw-1", "s-1", readingID).Return(&domain.StoredReading{UUID: readingID}, nil)
		f.store.On("CreateLatencyBenchmark", mock.Anything, "gw-1", "s-1", export.ExportValue.InferenceLatencyBenchmark).Return(nil)

		stored, err := o.ExportLatencyBenchmark(context.Background(), export)

		require.NoError(t, err)
		assert.True(t, stored)
		f.store.AssertExpectations(t)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture()
		o := f.orchestrator(config.InferenceConfig{})
		f.store.On("ReadReading", mock.Anything, "gw-1", "s-1", readingID).Return(&domain.StoredReading{UUID: readingID}, nil)

		stored, err := o.ExportLatencyBenchmark(context.Background(), export)

		require.NoError(t, err)
		assert.False(t, stored)
		f.store.AssertNotCalled(t, "CreateLatencyBenchmark", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown reading", func(t *testing.T) {
		f := newFixture()
		o := f.orchestrator(config.InferenceConfig{LatencyBenchmark: true})
		f.store.On("ReadReading", mock.Anything, "gw-1", "s-1", readingID).
			Return(nil, &domain.ServiceError{Kind: domain.KindNotFound, StatusCode: http.StatusNotFound})

		_, err := o.ExportLatencyBenchmark(context.Background(), export)

		assert.True(t, errors.Is(err, domain.ErrNotFound))
		f.store.AssertNotCalled(t, "CreateLatencyBenchmark", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
