// Package config loads process configuration from the environment, with an
// optional .env file for local development (github.com/joho/godotenv).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads an optional .env file at path (missing file is not an error)
// and then populates the environment for subsequent os.Getenv calls.
func Load(envPath string) error {
	if envPath == "" {
		return nil
	}
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(envPath)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return v, nil
}

// Control holds the control service's process configuration, sourced from
// environment variables.
type Control struct {
	ListenAddr        string
	DataDir           string
	WorkerBaseURL     string
	ActionSigningKey  []byte
	ActionPreviousKey []byte
	SessionSigningKey []byte
	BridgeKey         []byte
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	BcryptCost        int
	SecretsKey        []byte
}

// LoadControl reads control-plane configuration from the environment.
func LoadControl() (*Control, error) {
	signingKey, err := requireEnv("NEXUSD_ACTION_SIGNING_KEY")
	if err != nil {
		return nil, err
	}
	sessionKey, err := requireEnv("NEXUSD_SESSION_SIGNING_KEY")
	if err != nil {
		return nil, err
	}
	bridgeKey, err := requireEnv("NEXUSD_BRIDGE_KEY")
	if err != nil {
		return nil, err
	}
	secretsKey, err := requireEnv("NEXUSD_SECRETS_KEY")
	if err != nil {
		return nil, err
	}
	if len(signingKey) < 32 {
		return nil, fmt.Errorf("NEXUSD_ACTION_SIGNING_KEY must be at least 32 bytes, got %d", len(signingKey))
	}
	if len(sessionKey) < 32 {
		return nil, fmt.Errorf("NEXUSD_SESSION_SIGNING_KEY must be at least 32 bytes, got %d", len(sessionKey))
	}

	cfg := &Control{
		ListenAddr:        getEnv("NEXUSD_CONTROL_LISTEN_ADDR", ":8080"),
		DataDir:           getEnv("NEXUSD_CONTROL_DATA_DIR", "./data/control"),
		WorkerBaseURL:     getEnv("NEXUSD_WORKER_BASE_URL", "http://127.0.0.1:8081"),
		ActionSigningKey:  []byte(signingKey),
		SessionSigningKey: []byte(sessionKey),
		BridgeKey:         []byte(bridgeKey),
		SecretsKey:        []byte(secretsKey),
		AccessTokenTTL:    getEnvDuration("NEXUSD_ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:   getEnvDuration("NEXUSD_REFRESH_TOKEN_TTL", 30*24*time.Hour),
		BcryptCost:        getEnvInt("NEXUSD_BCRYPT_COST", 12),
	}
	if prev := os.Getenv("NEXUSD_ACTION_SIGNING_KEY_PREVIOUS"); prev != "" {
		cfg.ActionPreviousKey = []byte(prev)
	}
	return cfg, nil
}

// Worker holds the worker service's process configuration.
type Worker struct {
	ListenAddr        string
	DataDir           string
	TenantRootPath    string
	ContainerdSocket  string
	ContainerdLogsDir string
	ControlBaseURL    string
	ActionVerifyKey   []byte
	ActionPreviousKey []byte
	BridgeKey         []byte
	ReconcileInterval time.Duration
	ActionDeadline    time.Duration
}

// LoadWorker reads worker configuration from the environment.
func LoadWorker() (*Worker, error) {
	verifyKey, err := requireEnv("NEXUSD_ACTION_SIGNING_KEY")
	if err != nil {
		return nil, err
	}
	bridgeKey, err := requireEnv("NEXUSD_BRIDGE_KEY")
	if err != nil {
		return nil, err
	}
	if len(verifyKey) < 32 {
		return nil, fmt.Errorf("NEXUSD_ACTION_SIGNING_KEY must be at least 32 bytes, got %d", len(verifyKey))
	}

	cfg := &Worker{
		ListenAddr:        getEnv("NEXUSD_WORKER_LISTEN_ADDR", ":8081"),
		DataDir:           getEnv("NEXUSD_WORKER_DATA_DIR", "./data/worker"),
		TenantRootPath:    getEnv("NEXUSD_TENANT_ROOT", "./data/tenants"),
		ContainerdSocket:  getEnv("NEXUSD_CONTAINERD_SOCKET", "/run/containerd/containerd.sock"),
		ContainerdLogsDir: getEnv("NEXUSD_CONTAINERD_LOGS_DIR", "./data/worker/logs"),
		ControlBaseURL:    getEnv("NEXUSD_CONTROL_BASE_URL", "http://127.0.0.1:8080"),
		ActionVerifyKey:   []byte(verifyKey),
		BridgeKey:         []byte(bridgeKey),
		ReconcileInterval: getEnvDuration("NEXUSD_RECONCILE_INTERVAL", 10*time.Second),
		ActionDeadline:    getEnvDuration("NEXUSD_ACTION_DEADLINE", 90*time.Second),
	}
	if prev := os.Getenv("NEXUSD_ACTION_SIGNING_KEY_PREVIOUS"); prev != "" {
		cfg.ActionPreviousKey = []byte(prev)
	}
	return cfg, nil
}
