package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lomolisso/esn-cloud-api/internal/config"
	"github.com/lomolisso/esn-cloud-api/internal/domain"
	"github.com/lomolisso/esn-cloud-api/internal/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `CREATE TABLE IF NOT EXISTS export_records (
	reading_uuid    TEXT        NOT NULL,
	gateway_name    TEXT        NOT NULL,
	sensor_name     TEXT        NOT NULL,
	inference_layer SMALLINT    NOT NULL,
	prediction      INTEGER,
	outcome         TEXT        NOT NULL,
	error_kind      TEXT        NOT NULL DEFAULT '',
	duration_ms     BIGINT      NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (reading_uuid, created_at)
)`

const selectColumns = "SELECT reading_uuid, gateway_name, sensor_name, inference_layer, prediction, outcome, error_kind, duration_ms, created_at FROM export_records"

// PostgresRepository stores the export audit log
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresRepository(ctx context.Context, dbConfig config.DBConfig, logger *zap.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(dbConfig.DBSource)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.MaxConns = int32(dbConfig.MaxDBConnections)
	config.MinConns = int32(dbConfig.MinDBConnections)
	config.MaxConnLifetime = dbConfig.MaxConnLifetime
	config.MaxConnIdleTime = dbConfig.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create export_records table: %w", err)
	}

	go monitorConnections(ctx, pool, logger)

	return &PostgresRepository{
		pool:   pool,
		logger: logger,
	}, nil
}

// monitorConnections refreshes the pool gauges until ctx is cancelled
func monitorConnections(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping monitorConnections goroutine due to context cancellation")
			return
		case <-ticker.C:
			stats := pool.Stat()
			metrics.DBActiveConnections.Set(float64(stats.AcquiredConns()))
			metrics.DBIdleConnections.Set(float64(stats.IdleConns()))

			logger.Debug("Database connection stats",
				zap.Int("acquired", int(stats.AcquiredConns())),
				zap.Int("idle", int(stats.IdleConns())),
				zap.Int("max", int(stats.MaxConns())),
			)
		}
	}
}

func (r *PostgresRepository) SaveExportRecord(ctx context.Context, record *domain.ExportRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if record.ReadingUUID == "" {
		return errors.New("export record carries no reading uuid")
	}

	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("save_export_record").Observe(time.Since(start).Seconds())
	}()

	query := `INSERT INTO export_records
		(reading_uuid, gateway_name, sensor_name, inference_layer, prediction, outcome, error_kind, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (reading_uuid, created_at) DO NOTHING RETURNING reading_uuid`

	var inserted string
	err := r.pool.QueryRow(ctx, query,
		record.ReadingUUID,
		record.GatewayName,
		record.SensorName,
		int(record.InferenceLayer),
		record.Prediction,
		record.Outcome,
		record.ErrorKind,
		record.DurationMs,
		record.CreatedAt,
	).Scan(&inserted)

	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to save export record: %w", err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Debug("duplicate export record ignored", zap.String("reading_uuid", record.ReadingUUID))
	}

	return nil
}

// GetExportRecordsByReadingID returns every attempt recorded for a reading,
// oldest first. An unknown reading yields an empty slice.
func (r *PostgresRepository) GetExportRecordsByReadingID(ctx context.Context, readingID string) ([]*domain.ExportRecord, error) {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("get_export_records_by_reading_id").Observe(time.Since(start).Seconds())
	}()

	rows, err := r.pool.Query(ctx, selectColumns+" WHERE reading_uuid = $1 ORDER BY created_at", readingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query export records: %w", err)
	}
	return collectRecords(rows)
}

func (r *PostgresRepository) GetExportRecordsByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.ExportRecord, error) {
	startTime := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("get_export_records_by_time_range").Observe(time.Since(startTime).Seconds())
	}()

	rows, err := r.pool.Query(ctx, selectColumns+" WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at", start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query export records: %w", err)
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]*domain.ExportRecord, error) {
	defer rows.Close()

	results := []*domain.ExportRecord{}
	for rows.Next() {
		var (
			record domain.ExportRecord
			layer  int16
		)
		err := rows.Scan(
			&record.ReadingUUID,
			&record.GatewayName,
			&record.SensorName,
			&layer,
			&record.Prediction,
			&record.Outcome,
			&record.ErrorKind,
			&record.DurationMs,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		record.InferenceLayer = domain.InferenceLayer(layer)
		results = append(results, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.DBQueryDuration.WithLabelValues("health_check").Observe(duration)
	}()

	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}
