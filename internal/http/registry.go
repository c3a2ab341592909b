package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/lomolisso/esn-cloud-api/internal/domain"

	"github.com/gorilla/mux"
)

// models are uploaded as multipart files and can be larger than a JSON body
const maxModelBytes = 32 << 20

// readModelFile reads the tf_model_file part of a multipart upload
func readModelFile(w http.ResponseWriter, r *http.Request) (domain.ModelPayload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxModelBytes)
	if err := r.ParseMultipartForm(maxModelBytes); err != nil {
		return domain.ModelPayload{}, domain.NewInvalidRequest("invalid model upload: %v", err)
	}

	file, _, err := r.FormFile("tf_model_file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return domain.ModelPayload{}, domain.NewInvalidRequest("tf_model_file is required")
		}
		return domain.ModelPayload{}, domain.NewInvalidRequest("invalid model upload: %v", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return domain.ModelPayload{}, domain.NewInvalidRequest("read model file: %v", err)
	}
	return domain.NewModelPayload(raw)
}

func (s *HTTPServer) uploadCloudModel(w http.ResponseWriter, r *http.Request) {
	model, err := readModelFile(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.services.Models.SetCloudModel(r.Context(), model); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"message":           "model uploaded to inference service",
		"tf_model_bytesize": model.Bytesize,
	})
}

func (s *HTTPServer) registerGateway(w http.ResponseWriter, r *http.Request) {
	var gw domain.Gateway
	if err := decodeBody(w, r, &gw); err != nil {
		s.writeError(w, err)
		return
	}
	if gw.DeviceName == "" || gw.URL == "" {
		s.writeError(w, domain.NewInvalidRequest("device_name and url are required"))
		return
	}

	if err := s.services.Sensors.CreateGateway(r.Context(), gw); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, gw)
}

func (s *HTTPServer) getGateway(w http.ResponseWriter, r *http.Request) {
	gw, err := s.services.Sensors.ReadGateway(r.Context(), mux.Vars(r)["gateway"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, gw)
}

func (s *HTTPServer) getSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.services.Sensors.ReadSensors(r.Context(), mux.Vars(r)["gateway"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sensors)
}

func (s *HTTPServer) getSensor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sensor, err := s.services.Sensors.ReadSensor(r.Context(), vars["gateway"], vars["sensor"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sensor)
}

func (s *HTTPServer) gatewayFromRequest(r *http.Request) (domain.GatewayTarget, error) {
	gateway := r.URL.Query().Get("gateway_name")
	if gateway == "" {
		return domain.GatewayTarget{}, domain.NewInvalidRequest("gateway_name parameter is required")
	}
	return s.services.Commands.ResolveGateway(r.Context(), gateway)
}

func (s *HTTPServer) listGatewayDevices(w http.ResponseWriter, r *http.Request) {
	target, err := s.gatewayFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var devices []domain.BLEDevice
	switch mux.Vars(r)["resource"] {
	case domain.ResourceAvailableSensors:
		devices, err = s.services.Commands.GetAvailableSensors(r.Context(), target)
	default:
		devices, err = s.services.Commands.GetProvisionedSensors(r.Context(), target)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, devices)
}

func (s *HTTPServer) addProvisionedSensors(w http.ResponseWriter, r *http.Request) {
	var devices []domain.BLEDeviceWithPoP
	if err := decodeBody(w, r, &devices); err != nil {
		s.writeError(w, err)
		return
	}
	if len(devices) == 0 {
		s.writeError(w, domain.NewInvalidRequest("at least one device is required"))
		return
	}

	target, err := s.gatewayFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.services.Commands.AddProvisionedSensors(r.Context(), target, devices); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, target)
}

func (s *HTTPServer) addRegisteredSensors(w http.ResponseWriter, r *http.Request) {
	gateway := r.URL.Query().Get("gateway_name")
	if gateway == "" {
		s.writeError(w, domain.NewInvalidRequest("gateway_name parameter is required"))
		return
	}

	var sensors []domain.SensorDescriptor
	if err := decodeBody(w, r, &sensors); err != nil {
		s.writeError(w, err)
		return
	}
	for _, sensor := range sensors {
		if sensor.DeviceName == "" {
			s.writeError(w, domain.NewInvalidRequest("every sensor needs a device_name"))
			return
		}
	}

	target, err := s.services.Commands.AddRegisteredSensors(r.Context(), gateway, sensors)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, target)
}

func (s *HTTPServer) setGatewayModel(w http.ResponseWriter, r *http.Request) {
	model, err := readModelFile(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	target, err := s.gatewayFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.services.Commands.SetGatewayModel(r.Context(), target, model); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, target)
}
