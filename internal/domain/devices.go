package domain

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/klauspost/compress/zlib"
)

// Gateway is an edge gateway as registered in the data service. UUID and
// RegisteredAt are assigned by the data service.
type Gateway struct {
	UUID          string     `json:"uuid,omitempty"`
	DeviceName    string     `json:"device_name"`
	URL           string     `json:"url"`
	DeviceAddress string     `json:"device_address,omitempty"`
	RegisteredAt  *time.Time `json:"registered_at,omitempty"`
}

// Sensor is an edge sensor registered under a gateway
type Sensor struct {
	UUID          string     `json:"uuid,omitempty"`
	DeviceName    string     `json:"device_name"`
	DeviceAddress string     `json:"device_address"`
	RegisteredAt  *time.Time `json:"registered_at,omitempty"`
}

// SensorDescriptor names a sensor to register under a gateway
type SensorDescriptor struct {
	DeviceName    string `json:"device_name"`
	DeviceAddress string `json:"device_address"`
}

// BLEDevice is a sensor as seen over BLE by a gateway
type BLEDevice struct {
	DeviceName    string `json:"device_name"`
	DeviceAddress string `json:"device_address"`
}

// BLEDeviceWithPoP carries the proof of possession used to provision a device
type BLEDeviceWithPoP struct {
	BLEDevice
	DevicePoP string `json:"device_pop"`
}

// ModelPayload is a predictive model in transit: zlib compressed, base64
// encoded. Bytesize is the size before compression.
type ModelPayload struct {
	Bytesize int    `json:"tf_model_bytesize"`
	Base64   string `json:"tf_model_b64"`
}

func NewModelPayload(model []byte) (ModelPayload, error) {
	if len(model) == 0 {
		return ModelPayload{}, NewInvalidRequest("model file is empty")
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(model); err != nil {
		return ModelPayload{}, fmt.Errorf("compress model: %w", err)
	}
	if err := w.Close(); err != nil {
		return ModelPayload{}, fmt.Errorf("compress model: %w", err)
	}

	return ModelPayload{
		Bytesize: len(model),
		Base64:   base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
