package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/lomolisso/esn-cloud-api/internal/domain"

	"github.com/gorilla/mux"
)

type sensorConfigRequest struct {
	Sensors []string            `json:"sensors"`
	Config  domain.SensorConfig `json:"config"`
}

// retrieveRequest accepts either {"command_uuids": [...]} or a bare list
type retrieveRequest struct {
	CommandUUIDs []string `json:"command_uuids"`
}

func (r *retrieveRequest) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &r.CommandUUIDs)
	}
	type plain retrieveRequest
	return json.Unmarshal(data, (*plain)(r))
}

// targetFromRequest reads gateway_name from the query and the sensor names
// from the body, then resolves the command target.
func (s *HTTPServer) targetFromRequest(w http.ResponseWriter, r *http.Request) (domain.CommandTarget, error) {
	gateway := r.URL.Query().Get("gateway_name")
	if gateway == "" {
		return domain.CommandTarget{}, domain.NewInvalidRequest("gateway_name parameter is required")
	}

	var sensors []string
	if err := decodeBody(w, r, &sensors); err != nil {
		return domain.CommandTarget{}, err
	}
	if len(sensors) == 0 {
		return domain.CommandTarget{}, domain.NewInvalidRequest("at least one sensor is required")
	}

	return s.services.Commands.ResolveTarget(r.Context(), gateway, sensors)
}

func (s *HTTPServer) setSensorState(w http.ResponseWriter, r *http.Request) {
	state, err := domain.ParseSensorState(mux.Vars(r)["state"])
	if err != nil {
		s.writeError(w, domain.NewInvalidRequest("%v", err))
		return
	}

	target, err := s.targetFromRequest(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx := r.Context()
	for _, sensor := range target.TargetSensors {
		if err := s.services.Sensors.UpdateSensorState(ctx, target.GatewayName, sensor, state); err != nil {
			s.writeError(w, err)
			return
		}
	}

	if err := s.services.Commands.SetSensorState(ctx, target, state); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, target)
}

func (s *HTTPServer) setInferenceLayer(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["layer"])
	layer := domain.InferenceLayer(n)
	if err != nil || !layer.Valid() {
		s.writeError(w, domain.NewInvalidRequest("inference layer must be 0, 1 or 2"))
		return
	}

	target, err := s.targetFromRequest(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.services.Commands.SetInferenceLayer(r.Context(), target, layer); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, target)
}

func (s *HTTPServer) setSensorConfig(w http.ResponseWriter, r *http.Request) {
	gateway := r.URL.Query().Get("gateway_name")
	if gateway == "" {
		s.writeError(w, domain.NewInvalidRequest("gateway_name parameter is required"))
		return
	}

	var req sensorConfigRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.Sensors) == 0 {
		s.writeError(w, domain.NewInvalidRequest("at least one sensor is required"))
		return
	}
	if req.Config.SleepIntervalMs <= 0 {
		s.writeError(w, domain.NewInvalidRequest("sleep_interval_ms must be positive"))
		return
	}

	ctx := r.Context()
	target, err := s.services.Commands.ResolveTarget(ctx, gateway, req.Sensors)
	if err != nil {
		s.writeError(w, err)
		return
	}

	for _, sensor := range target.TargetSensors {
		if err := s.services.Sensors.UpsertSensorConfig(ctx, target.GatewayName, sensor, req.Config); err != nil {
			s.writeError(w, err)
			return
		}
	}

	if err := s.services.Commands.SetSensorConfig(ctx, target, req.Config); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, target)
}

func (s *HTTPServer) getSensorResource(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["resource"]
	if !readableResource(resource) {
		s.writeDetail(w, http.StatusNotFound, "unknown resource "+resource)
		return
	}

	target, err := s.targetFromRequest(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	uuids, err := s.services.Commands.Get(r.Context(), target, resource)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string][]string{"command_uuids": uuids})
}

func (s *HTTPServer) retrieveCommandResponses(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["resource"]
	if !readableResource(resource) {
		s.writeDetail(w, http.StatusNotFound, "unknown resource "+resource)
		return
	}

	var req retrieveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.CommandUUIDs) == 0 {
		s.writeError(w, domain.NewInvalidRequest("command_uuids is required"))
		return
	}

	body, err := s.services.Commands.RetrieveResponses(r.Context(), resource, req.CommandUUIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) setSensorModel(w http.ResponseWriter, r *http.Request) {
	gateway := r.URL.Query().Get("gateway_name")
	if gateway == "" {
		s.writeError(w, domain.NewInvalidRequest("gateway_name parameter is required"))
		return
	}

	model, err := readModelFile(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sensors := r.Form["device_names"]
	if len(sensors) == 0 {
		s.writeError(w, domain.NewInvalidRequest("at least one device name is required"))
		return
	}

	ctx := r.Context()
	target, err := s.services.Commands.ResolveTarget(ctx, gateway, sensors)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.services.Commands.SetSensorModel(ctx, target, model); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, target)
}
