package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/lomolisso/esn-cloud-api/internal/domain"
	"github.com/lomolisso/esn-cloud-api/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type ExportService interface {
	Export(ctx context.Context, export *domain.SensorDataExport) (*domain.ExportResult, error)
	ExportReading(ctx context.Context, export *domain.SensorReadingExport) (string, error)
	ExportLatencyBenchmark(ctx context.Context, export *domain.LatencyBenchmarkExport) (bool, error)
}

type CommandService interface {
	ResolveTarget(ctx context.Context, gateway string, sensors []string) (domain.CommandTarget, error)
	SetSensorState(ctx context.Context, target domain.CommandTarget, state domain.SensorState) error
	SetInferenceLayer(ctx context.Context, target domain.CommandTarget, layer domain.InferenceLayer) error
	SetSensorConfig(ctx context.Context, target domain.CommandTarget, cfg domain.SensorConfig) error
	Get(ctx context.Context, target domain.CommandTarget, resource string) ([]string, error)
	StoreResponse(ctx context.Context, resource string, response domain.CommandResponse) error
	RetrieveResponses(ctx context.Context, resource string, commandUUIDs []string) (json.RawMessage, error)
	SetSensorModel(ctx context.Context, target domain.CommandTarget, model domain.ModelPayload) error

	ResolveGateway(ctx context.Context, gateway string) (domain.GatewayTarget, error)
	GetAvailableSensors(ctx context.Context, target domain.GatewayTarget) ([]domain.BLEDevice, error)
	GetProvisionedSensors(ctx context.Context, target domain.GatewayTarget) ([]domain.BLEDevice, error)
	AddProvisionedSensors(ctx context.Context, target domain.GatewayTarget, devices []domain.BLEDeviceWithPoP) error
	AddRegisteredSensors(ctx context.Context, gateway string, sensors []domain.SensorDescriptor) (domain.GatewayTarget, error)
	SetGatewayModel(ctx context.Context, target domain.GatewayTarget, model domain.ModelPayload) error
}

// RegistryService reads and writes gateways and sensors in the data service
type RegistryService interface {
	CreateGateway(ctx context.Context, gateway domain.Gateway) error
	ReadGateway(ctx context.Context, gateway string) (*domain.Gateway, error)
	ReadSensors(ctx context.Context, gateway string) ([]domain.Sensor, error)
	ReadSensor(ctx context.Context, gateway, sensor string) (*domain.Sensor, error)
	UpdateSensorState(ctx context.Context, gateway, sensor string, state domain.SensorState) error
	UpsertSensorConfig(ctx context.Context, gateway, sensor string, cfg domain.SensorConfig) error
}

type ModelService interface {
	SetCloudModel(ctx context.Context, model domain.ModelPayload) error
}

type AuditService interface {
	GetExportsByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.ExportRecord, error)
	GetExportsByReadingID(ctx context.Context, readingID string) ([]*domain.ExportRecord, error)
	CheckDBConnection(ctx context.Context) error
}

// Services groups the handlers' dependencies. Audit is nil when the export
// audit log is disabled.
type Services struct {
	Exports  ExportService
	Commands CommandService
	Sensors  RegistryService
	Models   ModelService
	Audit    AuditService
}

type HTTPServer struct {
	server   *http.Server
	services Services
	logger   *zap.Logger
}

func NewHTTPServer(addr string, services Services, logger *zap.Logger) *HTTPServer {
	router := mux.NewRouter()

	s := &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		services: services,
		logger:   logger,
	}

	router.Use(s.metricsMiddleware)
	router.Use(s.loggingMiddleware)

	// gateway facing
	router.HandleFunc("/export/sensor-data", s.exportSensorData).Methods("POST")
	router.HandleFunc("/export/sensor-reading", s.exportSensorReading).Methods("POST")
	router.HandleFunc("/export/inference-latency-benchmark", s.exportLatencyBenchmark).Methods("POST")
	router.HandleFunc("/store/sensor/response/get/{resource}", s.storeCommandResponse).Methods("POST")

	// application facing
	router.HandleFunc("/sensor/command/set/sensor-state/{state}", s.setSensorState).Methods("POST")
	router.HandleFunc("/sensor/command/set/inference-layer/{layer}", s.setInferenceLayer).Methods("POST")
	router.HandleFunc("/sensor/command/set/sensor-config", s.setSensorConfig).Methods("POST")
	router.HandleFunc("/sensor/command/get/{resource}", s.getSensorResource).Methods("POST")
	router.HandleFunc("/sensor/command/retrieve/{resource}", s.retrieveCommandResponses).Methods("POST")
	router.HandleFunc("/sensor/response/get/{resource}", s.retrieveCommandResponses).Methods("POST")
	router.HandleFunc("/sensor/command/set/sensor-model", s.setSensorModel).Methods("POST")

	router.HandleFunc("/model", s.uploadCloudModel).Methods("POST")
	router.HandleFunc("/gateway/register", s.registerGateway).Methods("POST")
	router.HandleFunc("/gateway/command/get/{resource:available-sensors|provisioned-sensors}", s.listGatewayDevices).Methods("POST")
	router.HandleFunc("/gateway/command/add/provisioned-sensors", s.addProvisionedSensors).Methods("POST")
	router.HandleFunc("/gateway/command/add/registered-sensors", s.addRegisteredSensors).Methods("POST")
	router.HandleFunc("/gateway/command/set/gateway-model", s.setGatewayModel).Methods("POST")
	router.HandleFunc("/gateway/{gateway}", s.getGateway).Methods("GET")
	router.HandleFunc("/gateway/{gateway}/sensor", s.getSensors).Methods("GET")
	router.HandleFunc("/gateway/{gateway}/sensor/{sensor}", s.getSensor).Methods("GET")

	router.HandleFunc("/health", s.healthCheck).Methods("GET")
	router.HandleFunc("/api/v1/exports", s.getExportsByTimeRange).Methods("GET")
	router.HandleFunc("/api/v1/exports/{id}", s.getExportsByReadingID).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// responseWriter tracks status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// metricsMiddleware labels requests with the mux path template to keep cardinality bounded
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		method := r.Method
		status := strconv.Itoa(rw.statusCode)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}

		metrics.HTTPRequests.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
		metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(rw.size))
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.String("ip", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("status", rw.statusCode),
			zap.Int("response_size", rw.size),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *HTTPServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	if s.services.Audit != nil {
		if err := s.services.Audit.CheckDBConnection(r.Context()); err != nil {
			s.logger.Error("Health check failed", zap.Error(err))
			http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *HTTPServer) getExportsByTimeRange(w http.ResponseWriter, r *http.Request) {
	if s.services.Audit == nil {
		http.Error(w, "export audit log is disabled", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		http.Error(w, "start and end parameters are required", http.StatusBadRequest)
		return
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		s.logger.Error("invalid start time format",
			zap.Error(err),
			zap.String("received_start", startStr))
		http.Error(w, "invalid start time format", http.StatusBadRequest)
		return
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		s.logger.Error("invalid end time format",
			zap.Error(err),
			zap.String("received_end", endStr))
		http.Error(w, "invalid end time format", http.StatusBadRequest)
		return
	}

	records, err := s.services.Audit.GetExportsByTimeRange(ctx, start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, records)
}

func (s *HTTPServer) getExportsByReadingID(w http.ResponseWriter, r *http.Request) {
	if s.services.Audit == nil {
		http.Error(w, "export audit log is disabled", http.StatusNotFound)
		return
	}

	id := mux.Vars(r)["id"]

	records, err := s.services.Audit.GetExportsByReadingID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if len(records) == 0 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, records)
}
