package worker

import (
	"context"
	"sync"
	"time"

	"github.com/lomolisso/esn-cloud-api/internal/domain"
	"github.com/lomolisso/esn-cloud-api/internal/metrics"

	"go.uber.org/zap"
)

type Exporter interface {
	Export(ctx context.Context, export *domain.SensorDataExport) (*domain.ExportResult, error)
}

// Pool runs exports received over MQTT on a fixed number of workers
type Pool struct {
	workers  int
	exporter Exporter
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewPool(exporter Exporter, workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		exporter: exporter,
		workers:  workers,
		logger:   logger,
	}
}

// Start launches the workers and returns. They exit when exports is closed
// or ctx is cancelled; use Wait to block until they are done.
func (p *Pool) Start(ctx context.Context, exports <-chan *domain.SensorDataExport) {
	p.logger.Info("starting export workers",
		zap.Int("workers", p.workers),
		zap.String("start_time", time.Now().Format(time.RFC3339)),
	)

	metrics.WorkerActive.Set(float64(p.workers))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i, exports)
	}
}

func (p *Pool) run(ctx context.Context, workerID int, exports <-chan *domain.SensorDataExport) {
	defer p.wg.Done()
	defer metrics.WorkerActive.Dec()

	p.logger.Debug("worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case export, ok := <-exports:
			if !ok {
				p.logger.Info("export channel closed, exiting worker", zap.Int("worker_id", workerID))
				return
			}

			if ctx.Err() != nil {
				p.logger.Info("context cancelled, exiting worker", zap.Int("worker_id", workerID))
				return
			}

			p.process(ctx, workerID, export)

		case <-ctx.Done():
			p.logger.Info("context cancelled, exiting worker", zap.Int("worker_id", workerID))
			return
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID int, export *domain.SensorDataExport) {
	metrics.WorkerExportsReceived.Inc()
	startTime := time.Now()

	result, err := p.exporter.Export(ctx, export)
	if err != nil {
		metrics.WorkerExportsFailed.Inc()

		p.logger.Error("[Worker] failed to process export",
			zap.Int("worker_id", workerID),
			zap.String("gateway", export.Metadata.GatewayName),
			zap.String("sensor", export.Metadata.SensorName),
			zap.String("reading_uuid", export.ExportValue.Reading.UUID),
			zap.Error(err),
		)
		return
	}

	metrics.WorkerExportsProcessed.Inc()

	p.logger.Debug("[Worker] export processed",
		zap.Int("worker_id", workerID),
		zap.String("reading_uuid", result.ReadingUUID),
		zap.Int("prediction", result.Prediction),
		zap.Duration("processing_time", time.Since(startTime)),
	)
}

// Wait blocks until every worker has exited
func (p *Pool) Wait() {
	p.wg.Wait()

	metrics.WorkerActive.Set(0)

	p.logger.Info("export workers stopped",
		zap.String("stop_time", time.Now().Format(time.RFC3339)),
	)
}
