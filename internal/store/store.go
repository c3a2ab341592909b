package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lomolisso/esn-cloud-api/internal/client"
	"github.com/lomolisso/esn-cloud-api/internal/domain"

	"go.uber.org/zap"
)

// SensorReadingStore is a facade over the data service. Every write first
// checks that the gateway and sensor exist and fails with NotFound before
// anything is written.
type SensorReadingStore struct {
	data   *client.Client
	logger *zap.Logger
}

func NewSensorReadingStore(data *client.Client, logger *zap.Logger) *SensorReadingStore {
	return &SensorReadingStore{
		data:   data,
		logger: logger,
	}
}

// the data service keeps reading values as a JSON encoded string
type wireReading struct {
	UUID   string `json:"uuid"`
	Values string `json:"values"`
}

type wireStoredReading struct {
	wireReading
	RegisteredAt     time.Time                `json:"registered_at"`
	PredictionResult *domain.PredictionResult `json:"prediction_result,omitempty"`
}

type gatewayCreate struct {
	DeviceName    string `json:"device_name"`
	URL           string `json:"url"`
	DeviceAddress string `json:"device_address"`
}

type sensorUpdate struct {
	DeviceName string             `json:"device_name"`
	State      domain.SensorState `json:"state"`
}

func sensorPath(gateway, sensor string) string {
	return fmt.Sprintf("/gateway/%s/sensor/%s", url.PathEscape(gateway), url.PathEscape(sensor))
}

// ReadGateway returns the registered gateway, NotFound if absent
func (s *SensorReadingStore) ReadGateway(ctx context.Context, gateway string) (*domain.Gateway, error) {
	resp, err := s.data.Get(ctx, "/gateway/"+url.PathEscape(gateway))
	if err := client.Expect(resp, notFoundOn404(err), http.StatusOK); err != nil {
		return nil, fmt.Errorf("read gateway %q: %w", gateway, err)
	}

	var gw domain.Gateway
	if err := resp.Decode(&gw); err != nil {
		return nil, fmt.Errorf("read gateway %q: invalid body: %w", gateway, err)
	}
	if gw.DeviceName == "" {
		gw.DeviceName = gateway
	}
	return &gw, nil
}

// CreateGateway registers a gateway in the data service
func (s *SensorReadingStore) CreateGateway(ctx context.Context, gateway domain.Gateway) error {
	resp, err := s.data.Post(ctx, "/gateway", gatewayCreate{
		DeviceName:    gateway.DeviceName,
		URL:           gateway.URL,
		DeviceAddress: gateway.DeviceAddress,
	})
	if err := client.Expect(resp, err, http.StatusCreated); err != nil {
		return fmt.Errorf("create gateway %q: %w", gateway.DeviceName, err)
	}

	s.logger.Info("[Store] gateway registered",
		zap.String("gateway", gateway.DeviceName),
		zap.String("url", gateway.URL))
	return nil
}

// ReadSensors lists the sensors of a gateway. The gateway is read first so
// an unknown gateway is reported as such.
func (s *SensorReadingStore) ReadSensors(ctx context.Context, gateway string) ([]domain.Sensor, error) {
	if _, err := s.ReadGateway(ctx, gateway); err != nil {
		return nil, err
	}

	resp, err := s.data.Get(ctx, "/gateway/"+url.PathEscape(gateway)+"/sensor")
	if err := client.Expect(resp, notFoundOn404(err), http.StatusOK); err != nil {
		return nil, fmt.Errorf("read sensors of gateway %q: %w", gateway, err)
	}

	sensors := []domain.Sensor{}
	if err := resp.Decode(&sensors); err != nil {
		return nil, fmt.Errorf("read sensors of gateway %q: invalid body: %w", gateway, err)
	}
	return sensors, nil
}

func (s *SensorReadingStore) ReadSensor(ctx context.Context, gateway, sensor string) (*domain.Sensor, error) {
	resp, err := s.data.Get(ctx, sensorPath(gateway, sensor))
	if err := client.Expect(resp, notFoundOn404(err), http.StatusOK); err != nil {
		return nil, fmt.Errorf("read sensor %q of gateway %q: %w", sensor, gateway, err)
	}

	var sn domain.Sensor
	if err := resp.Decode(&sn); err != nil {
		return nil, fmt.Errorf("read sensor %q of gateway %q: invalid body: %w", sensor, gateway, err)
	}
	return &sn, nil
}

// CreateSensor registers a sensor under gateway
func (s *SensorReadingStore) CreateSensor(ctx context.Context, gateway string, sensor domain.SensorDescriptor) error {
	resp, err := s.data.Post(ctx, "/gateway/"+url.PathEscape(gateway)+"/sensor", sensor)
	if err := client.Expect(resp, notFoundOn404(err), http.StatusCreated); err != nil {
		return fmt.Errorf("create sensor %q of gateway %q: %w", sensor.DeviceName, gateway, err)
	}

	s.logger.Info("[Store] sensor registered",
		zap.String("gateway", gateway),
		zap.String("sensor", sensor.DeviceName))
	return nil
}

// UpsertSensorConfig records the configuration a sensor was told to apply
func (s *SensorReadingStore) UpsertSensorConfig(ctx context.Context, gateway, sensor string, cfg domain.SensorConfig) error {
	resp, err := s.data.Post(ctx, sensorPath(gateway, sensor)+"/config", cfg)
	if err := client.Expect(resp, notFoundOn404(err), http.StatusCreated); err != nil {
		return fmt.Errorf("store config of sensor %q: %w", sensor, err)
	}
	return nil
}

// EnsureSensorExists checks both the gateway and the sensor (the data
// service resolves the sensor under its gateway).
func (s *SensorReadingStore) EnsureSensorExists(ctx context.Context, gateway, sensor string) error {
	resp, err := s.data.Get(ctx, sensorPath(gateway, sensor))
	if err := client.Expect(resp, notFoundOn404(err), http.StatusOK); err != nil {
		return fmt.Errorf("read sensor %q of gateway %q: %w", sensor, gateway, err)
	}
	return nil
}

func (s *SensorReadingStore) CreateReading(ctx context.Context, gateway, sensor string, reading domain.SensorReading) error {
	if err := s.EnsureSensorExists(ctx, gateway, sensor); err != nil {
		return err
	}

	values, err := json.Marshal(reading.Values)
	if err != nil {
		return fmt.Errorf("encode reading %s values: %w", reading.UUID, err)
	}

	resp, err := s.data.Post(ctx, sensorPath(gateway, sensor)+"/reading", wireReading{
		UUID:   reading.UUID,
		Values: string(values),
	})
	if err := client.Expect(resp, err, http.StatusCreated); err != nil {
		return fmt.Errorf("create reading %s: %w", reading.UUID, err)
	}

	s.logger.Debug("[Store] reading created",
		zap.String("gateway", gateway),
		zap.String("sensor", sensor),
		zap.String("reading_uuid", reading.UUID))
	return nil
}

func (s *SensorReadingStore) ReadReading(ctx context.Context, gateway, sensor, readingID string) (*domain.StoredReading, error) {
	resp, err := s.data.Get(ctx, sensorPath(gateway, sensor)+"/reading/"+url.PathEscape(readingID))
	if err := client.Expect(resp, notFoundOn404(err), http.StatusOK); err != nil {
		return nil, fmt.Errorf("read reading %s: %w", readingID, err)
	}

	var wire wireStoredReading
	if err := resp.Decode(&wire); err != nil {
		return nil, fmt.Errorf("read reading %s: invalid body: %w", readingID, err)
	}

	stored := &domain.StoredReading{
		UUID:             wire.UUID,
		RegisteredAt:     wire.RegisteredAt,
		PredictionResult: wire.PredictionResult,
	}
	if err := json.Unmarshal([]byte(wire.Values), &stored.Values); err != nil {
		return nil, fmt.Errorf("read reading %s: invalid values: %w", readingID, err)
	}
	return stored, nil
}

func (s *SensorReadingStore) CreatePredictionResult(ctx context.Context, gateway, sensor, readingID string, result domain.PredictionResult) error {
	if err := s.EnsureSensorExists(ctx, gateway, sensor); err != nil {
		return err
	}

	path := sensorPath(gateway, sensor) + "/reading/" + url.PathEscape(readingID) + "/prediction"
	resp, err := s.data.Post(ctx, path, result)
	if err := client.Expect(resp, err, http.StatusCreated); err != nil {
		return fmt.Errorf("create prediction result for reading %s: %w", readingID, err)
	}
	return nil
}

func (s *SensorReadingStore) CreateLatencyBenchmark(ctx context.Context, gateway, sensor string, benchmark domain.InferenceLatencyBenchmark) error {
	if err := s.EnsureSensorExists(ctx, gateway, sensor); err != nil {
		return err
	}

	resp, err := s.data.Post(ctx, sensorPath(gateway, sensor)+"/inference/latency", benchmark)
	if err := client.Expect(resp, err, http.StatusCreated); err != nil {
		return fmt.Errorf("create inference latency benchmark: %w", err)
	}
	return nil
}

// UpdateSensorState records the desired state of a sensor in the data service
func (s *SensorReadingStore) UpdateSensorState(ctx context.Context, gateway, sensor string, state domain.SensorState) error {
	resp, err := s.data.Put(ctx, sensorPath(gateway, sensor), sensorUpdate{DeviceName: sensor, State: state})
	if err := client.Expect(resp, notFoundOn404(err), http.StatusOK); err != nil {
		return fmt.Errorf("update sensor %q state: %w", sensor, err)
	}
	return nil
}

func notFoundOn404(err error) error {
	var se *domain.ServiceError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		se.Kind = domain.KindNotFound
	}
	return err
}
