package domain

import "fmt"

type Method string

const (
	MethodGet Method = "get"
	MethodSet Method = "set"
	MethodAdd Method = "add"
)

// Resource names understood by the command service
const (
	ResourceSensorState      = "sensor-state"
	ResourceInferenceLayer   = "inference-layer"
	ResourceSensorConfig     = "sensor-config"
	ResourceLatencyBenchmark = "inf-latency-bench"
	ResourceSensorModel      = "sensor-model"
)

// Gateway resources
const (
	ResourceAvailableSensors   = "available-sensors"
	ResourceProvisionedSensors = "provisioned-sensors"
	ResourceRegisteredSensors  = "registered-sensors"
	ResourceGatewayModel       = "gateway-model"
)

type SensorState string

const (
	SensorStateInitial  SensorState = "initial"
	SensorStateUnlocked SensorState = "unlocked"
	SensorStateLocked   SensorState = "locked"
	SensorStateWorking  SensorState = "working"
	SensorStateIdle     SensorState = "idle"
	SensorStateError    SensorState = "error"
)

func ParseSensorState(s string) (SensorState, error) {
	switch st := SensorState(s); st {
	case SensorStateInitial, SensorStateUnlocked, SensorStateLocked,
		SensorStateWorking, SensorStateIdle, SensorStateError:
		return st, nil
	}
	return "", fmt.Errorf("unknown sensor state %q", s)
}

// CommandTarget is a gateway endpoint plus the sensors a command applies to.
// It is only built after every referenced entity was found.
type CommandTarget struct {
	GatewayName   string   `json:"gateway_name"`
	URL           string   `json:"url"`
	TargetSensors []string `json:"target_sensors"`
}

// GatewayTarget addresses a gateway itself rather than its sensors
type GatewayTarget struct {
	GatewayName string `json:"gateway_name"`
	URL         string `json:"url"`
}

// GatewayCommand is sent to /gateway/command/{method}/{resource}
type GatewayCommand struct {
	Method        Method        `json:"method"`
	Target        GatewayTarget `json:"target"`
	ResourceName  string        `json:"resource_name"`
	ResourceValue any           `json:"resource_value,omitempty"`
}

type Command struct {
	Method        Method        `json:"method"`
	Target        CommandTarget `json:"target"`
	ResourceName  string        `json:"resource_name"`
	ResourceValue any           `json:"resource_value,omitempty"`
}

type SensorConfig struct {
	SleepIntervalMs int `json:"sleep_interval_ms"`
}

// LatencyBenchmarkRequest asks a gateway to measure receipt of a cloud prediction
type LatencyBenchmarkRequest struct {
	SensorName     string         `json:"sensor_name"`
	ReadingUUID    string         `json:"reading_uuid"`
	InferenceLayer InferenceLayer `json:"inference_layer"`
	SendTimestamp  int64          `json:"send_timestamp"`
}

// CommandResponse is a gateway's answer to a GET command
type CommandResponse struct {
	Metadata struct {
		Sender      string `json:"sender"`
		CommandUUID string `json:"command_uuid"`
		GatewayName string `json:"gateway_name"`
	} `json:"metadata"`
	Method        Method `json:"method"`
	ResourceName  string `json:"resource_name"`
	ResourceValue any    `json:"resource_value"`
}
