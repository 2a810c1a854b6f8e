package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Environment variables read by LoadConfig
const (
	EnvMaxConcurrentLoads    = "DAEDALUS_MAX_CONCURRENT_LOADS"
	EnvConcurrencyMultiplier = "DAEDALUS_CONCURRENCY_MULTIPLIER"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Config holds the concurrency limits of the loading engine
type Config struct {
	MaxConcurrentLoads int
	Source             ConfigSource
	IsKubernetes       bool
	EffectiveCPUs      int
}

// LoadConfig loads concurrency configuration with priority: env vars > auto-detection
func LoadConfig() *Config {
	config := &Config{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	if maxLoads := getEnvInt(EnvMaxConcurrentLoads, 0); maxLoads > 0 {
		config.MaxConcurrentLoads = maxLoads
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt(EnvConcurrencyMultiplier, 0); multiplier > 0 {
		config.MaxConcurrentLoads = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxConcurrentLoads = getDefaultMaxConcurrent(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}

	if config.MaxConcurrentLoads < 1 {
		config.MaxConcurrentLoads = 1
	}
	return config
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxConcurrent returns defaults based on environment. Loads are
// mostly file I/O, so bare metal gets a higher multiplier.
func getDefaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		return cpus * 2
	}
	return cpus * 4
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrentLoads: %d, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrentLoads,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
