package domain

import (
	"fmt"
	"time"
)

// InferenceLayer is the tier computing a prediction. Higher values are more remote.
type InferenceLayer int

const (
	SensorLayer  InferenceLayer = 0
	GatewayLayer InferenceLayer = 1
	CloudLayer   InferenceLayer = 2
)

func (l InferenceLayer) Valid() bool {
	return l >= SensorLayer && l <= CloudLayer
}

func (l InferenceLayer) String() string {
	switch l {
	case SensorLayer:
		return "sensor"
	case GatewayLayer:
		return "gateway"
	case CloudLayer:
		return "cloud"
	}
	return fmt.Sprintf("layer(%d)", int(l))
}

// Metadata identifies the gateway/sensor pair an export belongs to
type Metadata struct {
	GatewayName string `json:"gateway_name"`
	SensorName  string `json:"sensor_name"`
}

// SensorReading is immutable once created
type SensorReading struct {
	UUID   string      `json:"uuid"`
	Values [][]float64 `json:"values"`
}

// InferenceDescriptor is mutated in place while an export is orchestrated.
type InferenceDescriptor struct {
	InferenceLayer   InferenceLayer `json:"inference_layer"`
	SendTimestamp    *int64         `json:"send_timestamp,omitempty"`
	RecvTimestamp    *int64         `json:"recv_timestamp,omitempty"`
	InferenceLatency *int64         `json:"inference_latency,omitempty"`
	Prediction       *int           `json:"prediction,omitempty"`
}

// SensorDataExport is the payload a gateway sends for one reading
type SensorDataExport struct {
	Metadata    Metadata         `json:"metadata"`
	ExportValue SensorDataRecord `json:"export_value"`
}

type SensorDataRecord struct {
	Reading             SensorReading       `json:"reading"`
	LowBattery          bool                `json:"low_battery"`
	InferenceDescriptor InferenceDescriptor `json:"inference_descriptor"`
}

type SensorReadingExport struct {
	Metadata    Metadata      `json:"metadata"`
	ExportValue SensorReading `json:"export_value"`
}

type LatencyBenchmarkExport struct {
	Metadata    Metadata                `json:"metadata"`
	ExportValue ReadingLatencyBenchmark `json:"export_value"`
}

type ReadingLatencyBenchmark struct {
	ReadingUUID string `json:"reading_uuid"`
	InferenceLatencyBenchmark
}

// InferenceLatencyBenchmark fields are persisted as supplied. InferenceLatency
// is optional and never derived from the timestamps.
type InferenceLatencyBenchmark struct {
	SendTimestamp    int64  `json:"send_timestamp"`
	RecvTimestamp    int64  `json:"recv_timestamp"`
	InferenceLatency *int64 `json:"inference_latency,omitempty"`
}

// PredictionResult is derived from the descriptor at persistence time.
type PredictionResult struct {
	Prediction                int                        `json:"prediction"`
	InferenceLayer            InferenceLayer             `json:"inference_layer"`
	InferenceLatencyBenchmark *InferenceLatencyBenchmark `json:"inference_latency_benchmark,omitempty"`
}

// StoredReading is a reading as returned by the data service
type StoredReading struct {
	UUID             string            `json:"uuid"`
	Values           [][]float64       `json:"values"`
	RegisteredAt     time.Time         `json:"registered_at"`
	PredictionResult *PredictionResult `json:"prediction_result,omitempty"`
}

// ExportResult is returned to the caller of a successful export
type ExportResult struct {
	ReadingUUID    string         `json:"reading_uuid"`
	InferenceLayer InferenceLayer `json:"inference_layer"`
	Prediction     int            `json:"prediction"`
}

// PredictionEvent is published after a successful export
type PredictionEvent struct {
	GatewayName    string         `json:"gateway_name"`
	SensorName     string         `json:"sensor_name"`
	ReadingUUID    string         `json:"reading_uuid"`
	InferenceLayer InferenceLayer `json:"inference_layer"`
	Prediction     int            `json:"prediction"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ExportRecord is one row of the export audit log
type ExportRecord struct {
	ReadingUUID    string         `json:"reading_uuid" db:"reading_uuid"`
	GatewayName    string         `json:"gateway_name" db:"gateway_name"`
	SensorName     string         `json:"sensor_name" db:"sensor_name"`
	InferenceLayer InferenceLayer `json:"inference_layer" db:"inference_layer"`
	Prediction     *int           `json:"prediction,omitempty" db:"prediction"`
	Outcome        string         `json:"outcome" db:"outcome"`
	ErrorKind      string         `json:"error_kind,omitempty" db:"error_kind"`
	DurationMs     int64          `json:"duration_ms" db:"duration_ms"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
