package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ChainConfig describes one supported chain.
type ChainConfig struct {
	ID      int64  `yaml:"id" json:"id"`
	RPC     string `yaml:"rpc,omitempty" json:"rpc,omitempty"`
	Testnet bool   `yaml:"testnet,omitempty" json:"testnet,omitempty"`
}

// ChainsConfig maps chain names to their configuration.
type ChainsConfig struct {
	Chains         map[string]ChainConfig `yaml:"chains"`
	DefaultChainID int64                  `yaml:"default_chain_id"`
}

// ChainID resolves a chain name to its id, falling back to the default
// when the name is unknown or carries no id.
func (c *ChainsConfig) ChainID(chain string) int64 {
	if cc, ok := c.Chains[strings.ToLower(chain)]; ok && cc.ID != 0 {
		return cc.ID
	}
	return c.DefaultChainID
}

// EnvConfig holds environment variables
type EnvConfig struct {
	// HTTP API
	ListenAddr string

	// Session store backend: "redis" or "file"
	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionsFile  string

	// Signing
	KeysFile string

	// Manager
	HandshakeTimeout time.Duration
	DefaultChainID   int64

	// Config files
	ChainsConfigPath string

	// Logging
	LogLevel string
}

// LoadEnv loads environment variables
func LoadEnv() (*EnvConfig, error) {
	// Try to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	cfg := &EnvConfig{
		ListenAddr:       getEnv("WB_LISTEN_ADDR", ":8590"),
		StoreBackend:     getEnv("WB_STORE_BACKEND", "file"),
		RedisAddr:        getEnv("WB_REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("WB_REDIS_PASSWORD", ""),
		SessionsFile:     getEnv("WB_SESSIONS_FILE", "data/sessions.json"),
		KeysFile:         getEnv("WB_KEYS_FILE", "configs/wallet_keys.json"),
		ChainsConfigPath: getEnv("WB_CHAINS_CONFIG", "configs/chains.yaml"),
		LogLevel:         getEnv("WB_LOG_LEVEL", "info"),
	}

	cfg.RedisDB = getEnvInt("WB_REDIS_DB", 0)
	cfg.DefaultChainID = int64(getEnvInt("WB_DEFAULT_CHAIN_ID", 1))
	cfg.HandshakeTimeout = time.Duration(getEnvInt("WB_HANDSHAKE_TIMEOUT_SECONDS", 20)) * time.Second

	return cfg, nil
}

// LoadChainsConfig loads the chain registry from YAML
func LoadChainsConfig(configPath string) (*ChainsConfig, error) {
	if configPath == "" {
		configPath = "configs/chains.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read chains config: %w", err)
	}

	// Replace environment variables in the YAML
	configStr := expandEnvVars(string(data))

	var config ChainsConfig
	if err := yaml.Unmarshal([]byte(configStr), &config); err != nil {
		return nil, fmt.Errorf("failed to parse chains config: %w", err)
	}

	if config.DefaultChainID == 0 {
		config.DefaultChainID = 1
	}

	// Chain names are matched case-insensitively
	lowered := make(map[string]ChainConfig, len(config.Chains))
	for name, cc := range config.Chains {
		lowered[strings.ToLower(name)] = cc
	}
	config.Chains = lowered

	return &config, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func expandEnvVars(s string) string {
	// Replace ${VAR_NAME} with environment variable values
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}
