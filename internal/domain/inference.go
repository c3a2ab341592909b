package domain

// Task states reported by the inference service
const (
	TaskPending = "PENDING"
	TaskSuccess = "SUCCESS"
	TaskFailure = "FAILURE"
)

// HeuristicErrorCode is the wire sentinel for a faulty sensor
const HeuristicErrorCode = -1

// PredictionRequest is submitted to the inference service
type PredictionRequest struct {
	Metadata    Metadata         `json:"metadata"`
	ExportValue SensorDataRecord `json:"export_value"`
}

type TaskSubmission struct {
	TaskID string `json:"task_id"`
}

type TaskStatus struct {
	TaskID string      `json:"task_id"`
	Status string      `json:"status"`
	Result *TaskResult `json:"result,omitempty"`
}

type TaskResult struct {
	PredictionResult int    `json:"prediction_result"`
	HeuristicResult  *int   `json:"heuristic_result,omitempty"`
	RecvTimestamp    *int64 `json:"recv_timestamp,omitempty"`
	InferenceLatency *int64 `json:"inference_latency,omitempty"`
}

// Heuristic is the decoded action carried by a heuristic result code.
type Heuristic int

const (
	HeuristicNoOp Heuristic = iota
	HeuristicError
	HeuristicDemoteToGateway
)

func (h Heuristic) String() string {
	switch h {
	case HeuristicError:
		return "error"
	case HeuristicDemoteToGateway:
		return "demote_to_gateway"
	}
	return "noop"
}

// DecodeHeuristic maps a wire code to an action. Unknown or missing codes are inert.
func DecodeHeuristic(code *int) Heuristic {
	if code == nil {
		return HeuristicNoOp
	}
	switch *code {
	case HeuristicErrorCode:
		return HeuristicError
	case int(GatewayLayer):
		return HeuristicDemoteToGateway
	}
	return HeuristicNoOp
}
