// Package conf loads service configuration for all doni processes.
//
// Configuration comes from a YAML file (default /etc/doni/doni.yaml, with a
// ./doni.yaml fallback for development) and can be overridden through
// DONI_-prefixed environment variables (e.g. DONI_DATABASE_PATH). The PORT
// environment variable is honored for the API bind port.
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envKeyReplacer maps config keys like api.auth_secret to env names like
// DONI_API_AUTH_SECRET.
var envKeyReplacer = strings.NewReplacer(".", "_")

// Config file locations.
const (
	// ProductionConfigPath is the default config location for production
	// deployments.
	ProductionConfigPath = "/etc/doni/doni.yaml"

	// DevelopmentConfigPath is the optional config location for
	// development and testing.
	DevelopmentConfigPath = "./doni.yaml"
)

// Config is the root configuration shared by all doni processes.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Worker   WorkerConfig   `mapstructure:"worker"`

	// Per-driver sections for external services.
	Blazar ServiceConfig `mapstructure:"blazar"`
	Ironic ServiceConfig `mapstructure:"ironic"`
	Tunelo ServiceConfig `mapstructure:"tunelo"`
	K8s    K8sConfig     `mapstructure:"k8s"`
	Balena BalenaConfig  `mapstructure:"balena"`
}

// APIConfig configures the doni-api process.
type APIConfig struct {
	// Port is the TCP port the API server binds to. The PORT environment
	// variable overrides it; the default is 8001.
	Port int `mapstructure:"port"`

	// AuthSecret is the HMAC secret used to hash and validate API tokens.
	// Required, minimum 32 bytes.
	AuthSecret string `mapstructure:"auth_secret"`

	// CORSOrigins is the list of allowed CORS origins. Empty disables CORS
	// handling entirely.
	CORSOrigins []string `mapstructure:"cors_origins"`

	// RateLimitRPS is the per-client request rate limit.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`

	// RateLimitBurst is the per-client burst allowance.
	RateLimitBurst int `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig configures the registry database.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `mapstructure:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `mapstructure:"level"`

	// Format is "json" or "console".
	Format string `mapstructure:"format"`
}

// WorkerConfig configures the doni-worker process.
type WorkerConfig struct {
	// EnabledHardwareTypes lists the hardware type drivers to load.
	EnabledHardwareTypes []string `mapstructure:"enabled_hardware_types"`

	// EnabledWorkerTypes lists the worker drivers to load.
	EnabledWorkerTypes []string `mapstructure:"enabled_worker_types"`

	// TaskPoolSize bounds how many tasks run concurrently in one batch.
	TaskPoolSize int `mapstructure:"task_pool_size"`

	// ProcessPendingInterval is the period of the pending-task sweep.
	ProcessPendingInterval time.Duration `mapstructure:"process_pending_interval"`
}

// ServiceConfig holds connection settings for an HTTP-based external service
// (Blazar, Ironic, Tunelo). Either a static Token or a Username/Password pair
// against AuthURL must be provided for authenticated services.
type ServiceConfig struct {
	// Endpoint is the service API base URL.
	Endpoint string `mapstructure:"endpoint"`

	// AuthURL is the token-issuing endpoint for password authentication.
	AuthURL string `mapstructure:"auth_url"`

	// Username for password authentication.
	Username string `mapstructure:"username"`

	// Password for password authentication.
	Password string `mapstructure:"password"`

	// Token is a static bearer token; takes precedence over Username.
	Token string `mapstructure:"token"`

	// Timeout bounds individual requests to the service.
	Timeout time.Duration `mapstructure:"timeout"`
}

// K8sConfig configures the k8s worker driver.
type K8sConfig struct {
	// KubeconfigFile is the kubeconfig to use for calls to Kubernetes.
	// Empty selects in-cluster configuration.
	KubeconfigFile string `mapstructure:"kubeconfig_file"`

	// ExpectedLabelsIndexProperty is the hardware property used to index
	// into ExpectedLabels.
	ExpectedLabelsIndexProperty string `mapstructure:"expected_labels_index_property"`

	// ExpectedLabels maps an index value to a "key1=value1,key2=value2"
	// label spec that should exist on the matching Kubernetes node.
	ExpectedLabels map[string]string `mapstructure:"expected_labels"`
}

// BalenaConfig configures the balena worker driver.
type BalenaConfig struct {
	// APIEndpoint is the Balena API base URL. This can point at an
	// openBalena instance; empty selects public balenaCloud.
	APIEndpoint string `mapstructure:"api_endpoint"`

	// APIToken authenticates calls to the Balena API.
	APIToken string `mapstructure:"api_token"`

	// DeviceFleetMapping maps Balena device types to the fleet that those
	// devices should be registered with.
	DeviceFleetMapping map[string]string `mapstructure:"device_fleet_mapping"`

	// CredentialServiceName is the Balena service that receives the
	// application credential as device env vars.
	CredentialServiceName string `mapstructure:"credential_service_name"`
}

// Load reads configuration from the given path. When path is empty, the
// development location is tried first, then the production location; a
// missing file is not an error and yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DONI")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envKeyReplacer)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		for _, candidate := range []string{DevelopmentConfigPath, ProductionConfigPath} {
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				if err := v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("failed to read config file %s: %w", candidate, err)
				}
				break
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// PORT is the documented override for the API bind port.
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT value %q: %w", port, err)
		}
		cfg.API.Port = p
	}

	return &cfg, nil
}

// ValidateAPI checks settings the doni-api process cannot run without.
func (c *Config) ValidateAPI() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be in 1-65535 (got %d)", c.API.Port)
	}
	if c.API.AuthSecret == "" {
		return fmt.Errorf("api.auth_secret is required (set DONI_API_AUTH_SECRET or the config file)")
	}
	if len(c.API.AuthSecret) < 32 {
		return fmt.Errorf("api.auth_secret must be at least 32 bytes (got %d)", len(c.API.AuthSecret))
	}
	return nil
}

// ValidateWorker checks settings the doni-worker process cannot run without.
func (c *Config) ValidateWorker() error {
	if len(c.Worker.EnabledHardwareTypes) == 0 {
		return fmt.Errorf("worker.enabled_hardware_types must not be empty")
	}
	if len(c.Worker.EnabledWorkerTypes) == 0 {
		return fmt.Errorf("worker.enabled_worker_types must not be empty")
	}
	if c.Worker.TaskPoolSize < 1 {
		return fmt.Errorf("worker.task_pool_size must be positive (got %d)", c.Worker.TaskPoolSize)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8001)
	v.SetDefault("api.rate_limit_rps", 100.0)
	v.SetDefault("api.rate_limit_burst", 200)

	v.SetDefault("database.path", "./doni.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("worker.enabled_hardware_types", []string{"baremetal"})
	v.SetDefault("worker.enabled_worker_types", []string{"ironic"})
	v.SetDefault("worker.task_pool_size", 100)
	v.SetDefault("worker.process_pending_interval", time.Minute)

	v.SetDefault("blazar.timeout", 30*time.Second)
	v.SetDefault("ironic.timeout", 30*time.Second)
	v.SetDefault("tunelo.timeout", 30*time.Second)

	v.SetDefault("k8s.expected_labels_index_property", "machine_name")
	v.SetDefault("balena.credential_service_name", "coordinator")
}
