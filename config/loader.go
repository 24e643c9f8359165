package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// ProjectConfigFile is the config file name searched for in the
	// working directory and its parents.
	ProjectConfigFile = "lifebus.yaml"

	// EnvPrefix namespaces lifebus's own environment variables. Kafka
	// variables keep their conventional KAFKA_ names.
	EnvPrefix = "LIFEBUS_"
)

// Loader assembles configuration with layered precedence:
// defaults, then the config file, then environment variables.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load assembles the configuration. path may be empty, in which case
// lifebus.yaml is searched for in the working directory and its parents;
// an explicitly named file that fails to load is an error, a missing
// discovered file is not.
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = l.findProjectConfig()
	}
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			l.logger.Debug("loaded config file", "path", path)
			config.Merge(fileConfig)
		}
	}

	l.applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overlays environment variables onto the config. Environment
// wins over the file so deployments inject brokers and credentials without
// editing config files.
func (l *Loader) applyEnv(config *Config) {
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		config.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_CLIENT_ID"); v != "" {
		config.Kafka.ClientID = v
	}
	if v := os.Getenv("KAFKA_GROUP_ID"); v != "" {
		config.Kafka.GroupID = v
	}
	if v := os.Getenv("KAFKA_SSL"); v != "" {
		if ssl, err := strconv.ParseBool(v); err == nil {
			config.Kafka.SSL = ssl
		} else {
			l.logger.Warn("ignoring unparseable KAFKA_SSL", "value", v)
		}
	}
	if v := os.Getenv("KAFKA_SASL_MECHANISM"); v != "" {
		config.Kafka.SASLMechanism = v
	}
	if v := os.Getenv("KAFKA_SASL_USERNAME"); v != "" {
		config.Kafka.SASLUsername = v
	}
	if v := os.Getenv("KAFKA_SASL_PASSWORD"); v != "" {
		config.Kafka.SASLPassword = v
	}

	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		config.Gateway.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "CORRELATION_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.Correlation.MaxAge = d
		} else {
			l.logger.Warn("ignoring unparseable "+EnvPrefix+"CORRELATION_MAX_AGE", "value", v)
		}
	}
}

// findProjectConfig searches for lifebus.yaml in the working directory and
// its parents.
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults replaces ${VAR} and ${VAR:-default} references.
// Unset variables without a default expand to the empty string.
func ExpandEnvWithDefaults(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		groups := envRef.FindStringSubmatch(match)
		name, hasDefault, fallback := groups[1], groups[2] != "", groups[3]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return fallback
		}
		return ""
	})
}
