package http

import (
	"net/http"

	"github.com/lomolisso/esn-cloud-api/internal/domain"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *HTTPServer) exportSensorData(w http.ResponseWriter, r *http.Request) {
	var export domain.SensorDataExport
	if err := decodeBody(w, r, &export); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.services.Exports.Export(r.Context(), &export)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) exportSensorReading(w http.ResponseWriter, r *http.Request) {
	var export domain.SensorReadingExport
	if err := decodeBody(w, r, &export); err != nil {
		s.writeError(w, err)
		return
	}

	readingID, err := s.services.Exports.ExportReading(r.Context(), &export)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{"reading_uuid": readingID})
}

func (s *HTTPServer) exportLatencyBenchmark(w http.ResponseWriter, r *http.Request) {
	var export domain.LatencyBenchmarkExport
	if err := decodeBody(w, r, &export); err != nil {
		s.writeError(w, err)
		return
	}

	stored, err := s.services.Exports.ExportLatencyBenchmark(r.Context(), &export)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"reading_uuid": export.ExportValue.ReadingUUID,
		"stored":       stored,
	})
}

// storeCommandResponse forwards a gateway's answer to a GET command
func (s *HTTPServer) storeCommandResponse(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["resource"]
	if !readableResource(resource) {
		s.writeDetail(w, http.StatusNotFound, "unknown resource "+resource)
		return
	}

	var response domain.CommandResponse
	if err := decodeBody(w, r, &response); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.services.Commands.StoreResponse(r.Context(), resource, response); err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Debug("Command response stored",
		zap.String("resource", resource),
		zap.String("command_uuid", response.Metadata.CommandUUID))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"command_uuid": response.Metadata.CommandUUID})
}

func readableResource(resource string) bool {
	switch resource {
	case domain.ResourceSensorState, domain.ResourceInferenceLayer, domain.ResourceSensorConfig:
		return true
	}
	return false
}
