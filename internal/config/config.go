package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBConfig    DBConfig
	Services    ServicesConfig
	Inference   InferenceConfig
	MQTT        MQTTConfig
	RESTPort    string
	WorkerCount int
	LogLevel    string
}

type DBConfig struct {
	DBSource         string
	MaxDBConnections int
	MinDBConnections int
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
}

// ServicesConfig points at the data, command and inference collaborators
type ServicesConfig struct {
	DataURL        string
	CommandURL     string
	InferenceURL   string
	RequestTimeout time.Duration
}

// InferenceConfig is built once at start and shared by the orchestrator.
type InferenceConfig struct {
	LatencyBenchmark  bool
	AdaptiveInference bool
	PollingInterval   time.Duration
	// PollingTimeout bounds the whole poll loop; zero means no deadline.
	PollingTimeout time.Duration
}

type MQTTConfig struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	ExportTopic     string
	PredictionTopic string
}

func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

func LoadConfig() *Config {
	// .env is optional
	_ = godotenv.Load()

	return &Config{
		DBConfig: DBConfig{
			DBSource: getEnv("DB_SOURCE", ""),

			MaxDBConnections: getEnvAsInt("MAX_DB_CONNECTIONS", 10),
			MinDBConnections: getEnvAsInt("MIN_DB_CONNECTIONS", 2),
			MaxConnLifetime:  time.Duration(getEnvAsInt("MAX_CONN_LIFETIME", 3600)) * time.Second,
			MaxConnIdleTime:  time.Duration(getEnvAsInt("MAX_CONN_IDLE_TIME", 1800)) * time.Second,
		},
		Services: ServicesConfig{
			DataURL:        getEnv("DATA_MICROSERVICE_URL", "http://localhost:8001"),
			CommandURL:     getEnv("COMMAND_MICROSERVICE_URL", "http://localhost:8002"),
			InferenceURL:   getEnv("INFERENCE_MICROSERVICE_URL", "http://localhost:8003"),
			RequestTimeout: time.Duration(getEnvAsInt("REQUEST_TIMEOUT_MS", 20000)) * time.Millisecond,
		},
		Inference: InferenceConfig{
			LatencyBenchmark:  getEnvAsBool("LATENCY_BENCHMARK", false),
			AdaptiveInference: getEnvAsBool("ADAPTIVE_INFERENCE", true),
			PollingInterval:   time.Duration(getEnvAsInt("POLLING_INTERVAL_MS", 100)) * time.Millisecond,
			PollingTimeout:    time.Duration(getEnvAsInt("POLLING_TIMEOUT_MS", 60000)) * time.Millisecond,
		},
		MQTT: MQTTConfig{
			Broker:          getEnv("MQTT_BROKER", ""),
			ClientID:        getEnv("MQTT_CLIENT_ID", "esn-cloud-api"),
			Username:        getEnv("MQTT_USERNAME", ""),
			Password:        getEnv("MQTT_PASSWORD", ""),
			ExportTopic:     getEnv("MQTT_TOPIC_EXPORT", "gateway/+/export/sensor-data"),
			PredictionTopic: getEnv("MQTT_TOPIC_PREDICTION", "prediction/{gateway}/{sensor}"),
		},
		RESTPort:    getEnv("REST_PORT", ":8080"),
		WorkerCount: getEnvAsInt("WORKER_COUNT", 5),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvAsBool accepts 0/1 as well as true/false
func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
