package service

import (
	"context"

	"github.com/lomolisso/esn-cloud-api/internal/domain"

	"go.uber.org/zap"
)

// ExportReading stores a bare reading without prediction. The reading uuid
// is assigned here when the gateway sent none.
func (o *Orchestrator) ExportReading(ctx context.Context, export *domain.SensorReadingExport) (string, error) {
	if export == nil || export.Metadata.GatewayName == "" || export.Metadata.SensorName == "" {
		return "", domain.NewInvalidRequest("gateway_name and sensor_name are required")
	}
	if err := prepareReading(&export.ExportValue); err != nil {
		return "", err
	}

	gateway, sensor := export.Metadata.GatewayName, export.Metadata.SensorName
	if err := o.store.CreateReading(ctx, gateway, sensor, export.ExportValue); err != nil {
		o.logger.Error("[Orchestrator] failed to export reading",
			zap.String("gateway", gateway),
			zap.String("sensor", sensor),
			zap.Error(err))
		return "", err
	}

	return export.ExportValue.UUID, nil
}

// ExportLatencyBenchmark persists a benchmark measured by a gateway for a
// reading that must already exist. It reports false when benchmarking is
// disabled and nothing was written.
func (o *Orchestrator) ExportLatencyBenchmark(ctx context.Context, export *domain.LatencyBenchmarkExport) (bool, error) {
	if export == nil || export.Metadata.GatewayName == "" || export.Metadata.SensorName == "" {
		return false, domain.NewInvalidRequest("gateway_name and sensor_name are required")
	}
	if export.ExportValue.ReadingUUID == "" {
		return false, domain.NewInvalidRequest("reading_uuid is required")
	}

	gateway, sensor := export.Metadata.GatewayName, export.Metadata.SensorName
	if _, err := o.store.ReadReading(ctx, gateway, sensor, export.ExportValue.ReadingUUID); err != nil {
		return false, err
	}

	if !o.cfg.LatencyBenchmark {
		o.logger.Debug("[Orchestrator] latency benchmark disabled, export ignored",
			zap.String("reading_uuid", export.ExportValue.ReadingUUID))
		return false, nil
	}

	if err := o.store.CreateLatencyBenchmark(ctx, gateway, sensor, export.ExportValue.InferenceLatencyBenchmark); err != nil {
		return false, err
	}
	return true, nil
}
