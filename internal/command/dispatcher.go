package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lomolisso/esn-cloud-api/internal/client"
	"github.com/lomolisso/esn-cloud-api/internal/domain"

	"go.uber.org/zap"
)

// Registry resolves gateways and sensors before a command is sent
type Registry interface {
	ReadGateway(ctx context.Context, gateway string) (*domain.Gateway, error)
	EnsureSensorExists(ctx context.Context, gateway, sensor string) error
	CreateSensor(ctx context.Context, gateway string, sensor domain.SensorDescriptor) error
}

// Dispatcher builds typed commands and submits them to the command service.
// Every SET/GET/ADD must be answered with 202 Accepted, anything else is an error.
type Dispatcher struct {
	commands *client.Client
	registry Registry
	logger   *zap.Logger
}

func NewDispatcher(commands *client.Client, registry Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		commands: commands,
		registry: registry,
		logger:   logger,
	}
}

// ResolveTarget confirms the gateway and every named sensor exist. The first
// missing entity aborts the resolution.
func (d *Dispatcher) ResolveTarget(ctx context.Context, gateway string, sensors []string) (domain.CommandTarget, error) {
	gw, err := d.registry.ReadGateway(ctx, gateway)
	if err != nil {
		return domain.CommandTarget{}, err
	}

	for _, sensor := range sensors {
		if err := d.registry.EnsureSensorExists(ctx, gateway, sensor); err != nil {
			return domain.CommandTarget{}, err
		}
	}

	return domain.CommandTarget{
		GatewayName:   gateway,
		URL:           gw.URL,
		TargetSensors: append([]string(nil), sensors...),
	}, nil
}

// ResolveGateway reads the gateway's URL for commands addressed to the gateway itself
func (d *Dispatcher) ResolveGateway(ctx context.Context, gateway string) (domain.GatewayTarget, error) {
	gw, err := d.registry.ReadGateway(ctx, gateway)
	if err != nil {
		return domain.GatewayTarget{}, err
	}
	return domain.GatewayTarget{GatewayName: gateway, URL: gw.URL}, nil
}

func (d *Dispatcher) SetSensorState(ctx context.Context, target domain.CommandTarget, state domain.SensorState) error {
	_, err := d.submit(ctx, domain.Command{
		Method:        domain.MethodSet,
		Target:        target,
		ResourceName:  domain.ResourceSensorState,
		ResourceValue: state,
	})
	return err
}

func (d *Dispatcher) SetInferenceLayer(ctx context.Context, target domain.CommandTarget, layer domain.InferenceLayer) error {
	if !layer.Valid() {
		return domain.NewInvalidRequest("invalid inference layer %d", int(layer))
	}
	_, err := d.submit(ctx, domain.Command{
		Method:        domain.MethodSet,
		Target:        target,
		ResourceName:  domain.ResourceInferenceLayer,
		ResourceValue: layer,
	})
	return err
}

func (d *Dispatcher) SetSensorConfig(ctx context.Context, target domain.CommandTarget, cfg domain.SensorConfig) error {
	_, err := d.submit(ctx, domain.Command{
		Method:        domain.MethodSet,
		Target:        target,
		ResourceName:  domain.ResourceSensorConfig,
		ResourceValue: cfg,
	})
	return err
}

// SetLatencyBenchmark asks the gateway to measure a cloud prediction round
// trip. Fire-and-forget, but a non-Accepted answer is still an error.
func (d *Dispatcher) SetLatencyBenchmark(ctx context.Context, target domain.CommandTarget, benchmark domain.LatencyBenchmarkRequest) error {
	_, err := d.submit(ctx, domain.Command{
		Method:        domain.MethodSet,
		Target:        target,
		ResourceName:  domain.ResourceLatencyBenchmark,
		ResourceValue: benchmark,
	})
	return err
}

// Get sends a GET command for resource and returns the command uuids the
// gateway responses will be correlated with.
func (d *Dispatcher) Get(ctx context.Context, target domain.CommandTarget, resource string) ([]string, error) {
	switch resource {
	case domain.ResourceSensorState, domain.ResourceInferenceLayer, domain.ResourceSensorConfig:
	default:
		return nil, domain.NewInvalidRequest("unsupported resource %q", resource)
	}

	resp, err := d.submit(ctx, domain.Command{
		Method:       domain.MethodGet,
		Target:       target,
		ResourceName: resource,
	})
	if err != nil {
		return nil, err
	}

	var accepted struct {
		CommandUUIDs []string `json:"command_uuids"`
	}
	if err := resp.Decode(&accepted); err != nil {
		return nil, fmt.Errorf("get %s: invalid command service answer: %w", resource, err)
	}
	return accepted.CommandUUIDs, nil
}

// StoreResponse forwards a gateway's answer to a GET command
func (d *Dispatcher) StoreResponse(ctx context.Context, resource string, response domain.CommandResponse) error {
	resp, err := d.commands.Post(ctx, "/store/sensor/response/get/"+resource, response)
	if err := client.Expect(resp, err, http.StatusCreated); err != nil {
		return fmt.Errorf("store %s response: %w", resource, err)
	}
	return nil
}

// RetrieveResponses fetches stored responses for the given command uuids
func (d *Dispatcher) RetrieveResponses(ctx context.Context, resource string, commandUUIDs []string) (json.RawMessage, error) {
	resp, err := d.commands.Post(ctx, "/retrieve/sensor/response/get/"+resource, commandUUIDs)
	if err := client.Expect(resp, err, http.StatusOK); err != nil {
		return nil, fmt.Errorf("retrieve %s responses: %w", resource, err)
	}
	return resp.Body, nil
}

// SetSensorModel pushes a predictive model to the target sensors
func (d *Dispatcher) SetSensorModel(ctx context.Context, target domain.CommandTarget, model domain.ModelPayload) error {
	_, err := d.submit(ctx, domain.Command{
		Method:        domain.MethodSet,
		Target:        target,
		ResourceName:  domain.ResourceSensorModel,
		ResourceValue: model,
	})
	return err
}

// GetAvailableSensors asks the gateway for the BLE devices in range
func (d *Dispatcher) GetAvailableSensors(ctx context.Context, target domain.GatewayTarget) ([]domain.BLEDevice, error) {
	return d.listDevices(ctx, target, domain.ResourceAvailableSensors)
}

// GetProvisionedSensors asks the gateway for the devices it has provisioned
func (d *Dispatcher) GetProvisionedSensors(ctx context.Context, target domain.GatewayTarget) ([]domain.BLEDevice, error) {
	return d.listDevices(ctx, target, domain.ResourceProvisionedSensors)
}

func (d *Dispatcher) AddProvisionedSensors(ctx context.Context, target domain.GatewayTarget, devices []domain.BLEDeviceWithPoP) error {
	if len(devices) == 0 {
		return domain.NewInvalidRequest("at least one device is required")
	}
	_, err := d.submitGateway(ctx, domain.GatewayCommand{
		Method:        domain.MethodAdd,
		Target:        target,
		ResourceName:  domain.ResourceProvisionedSensors,
		ResourceValue: devices,
	})
	return err
}

// AddRegisteredSensors creates each sensor in the data service, then tells
// the gateway to register them. A creation failure aborts before any command
// is sent; sensors created before it stay registered.
func (d *Dispatcher) AddRegisteredSensors(ctx context.Context, gateway string, sensors []domain.SensorDescriptor) (domain.GatewayTarget, error) {
	if len(sensors) == 0 {
		return domain.GatewayTarget{}, domain.NewInvalidRequest("at least one sensor is required")
	}

	for _, sensor := range sensors {
		if err := d.registry.CreateSensor(ctx, gateway, sensor); err != nil {
			return domain.GatewayTarget{}, err
		}
	}

	target, err := d.ResolveGateway(ctx, gateway)
	if err != nil {
		return domain.GatewayTarget{}, err
	}

	_, err = d.submitGateway(ctx, domain.GatewayCommand{
		Method:        domain.MethodAdd,
		Target:        target,
		ResourceName:  domain.ResourceRegisteredSensors,
		ResourceValue: sensors,
	})
	return target, err
}

func (d *Dispatcher) SetGatewayModel(ctx context.Context, target domain.GatewayTarget, model domain.ModelPayload) error {
	_, err := d.submitGateway(ctx, domain.GatewayCommand{
		Method:        domain.MethodSet,
		Target:        target,
		ResourceName:  domain.ResourceGatewayModel,
		ResourceValue: model,
	})
	return err
}

func (d *Dispatcher) listDevices(ctx context.Context, target domain.GatewayTarget, resource string) ([]domain.BLEDevice, error) {
	resp, err := d.submitGateway(ctx, domain.GatewayCommand{
		Method:       domain.MethodGet,
		Target:       target,
		ResourceName: resource,
	})
	if err != nil {
		return nil, err
	}

	devices := []domain.BLEDevice{}
	if err := resp.Decode(&devices); err != nil {
		return nil, fmt.Errorf("get %s: invalid command service answer: %w", resource, err)
	}
	return devices, nil
}

func (d *Dispatcher) submit(ctx context.Context, cmd domain.Command) (*client.Response, error) {
	path := fmt.Sprintf("/sensor/command/%s/%s", cmd.Method, cmd.ResourceName)
	return d.send(ctx, path, cmd, cmd.Method, cmd.ResourceName,
		zap.String("gateway", cmd.Target.GatewayName),
		zap.Strings("sensors", cmd.Target.TargetSensors))
}

func (d *Dispatcher) submitGateway(ctx context.Context, cmd domain.GatewayCommand) (*client.Response, error) {
	path := fmt.Sprintf("/gateway/command/%s/%s", cmd.Method, cmd.ResourceName)
	return d.send(ctx, path, cmd, cmd.Method, cmd.ResourceName,
		zap.String("gateway", cmd.Target.GatewayName))
}

func (d *Dispatcher) send(ctx context.Context, path string, cmd any, method domain.Method, resource string, fields ...zap.Field) (*client.Response, error) {
	fields = append([]zap.Field{
		zap.String("method", string(method)),
		zap.String("resource", resource),
	}, fields...)

	resp, err := d.commands.Post(ctx, path, cmd)
	if err := client.Expect(resp, err, http.StatusAccepted); err != nil {
		d.logger.Error("[Dispatcher] command rejected", append(fields, zap.Error(err))...)
		return nil, fmt.Errorf("%s %s command: %w", method, resource, err)
	}

	d.logger.Info("[Dispatcher] command accepted", fields...)
	return resp, nil
}
