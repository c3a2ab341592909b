package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lomolisso/esn-cloud-api/internal/domain"

	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *HTTPServer) writeDetail(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps err to a response. Collaborator rejections are forwarded
// with their own status and body, except that a missing or success status
// becomes 502 so a failure never reads as success.
func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	var se *domain.ServiceError
	if !errors.As(err, &se) {
		s.logger.Error("Request failed", zap.Error(err))
		s.writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	switch se.Kind {
	case domain.KindInvalidRequest:
		s.writeDetail(w, http.StatusBadRequest, err.Error())
	case domain.KindTaskTimeout:
		s.writeDetail(w, http.StatusGatewayTimeout, "prediction task did not complete in time")
	case domain.KindTaskFailed:
		s.writeDetail(w, http.StatusInternalServerError, "prediction task failed")
	case domain.KindTransportFailure:
		s.logger.Error("Collaborator unreachable", zap.Error(err))
		s.writeDetail(w, http.StatusInternalServerError, "Internal server error")
	default:
		status := se.StatusCode
		if status < 300 {
			status = http.StatusBadGateway
		}
		if len(se.Body) == 0 {
			s.writeDetail(w, status, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if _, err := w.Write(se.Body); err != nil {
			s.logger.Error("Failed to forward collaborator body", zap.Error(err))
		}
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return domain.NewInvalidRequest("invalid request body: %v", err)
	}
	return nil
}
