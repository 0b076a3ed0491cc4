package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config lists the tunable parameters for the uplink dashboard server.
type Config struct {
	HTTPPort     int    `mapstructure:"http_port"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	DatabasePath string `mapstructure:"database_path"`
	LogLevel     string `mapstructure:"log_level"`
	DatasetDir   string `mapstructure:"dataset_dir"`

	// An empty broker disables the MQTT source.
	MQTTBroker   string `mapstructure:"mqtt_broker"`
	MQTTClientID string `mapstructure:"mqtt_client_id"`
	MQTTTopic    string `mapstructure:"mqtt_topic"`
	MQTTQoS      int    `mapstructure:"mqtt_qos"`

	// No brokers disables the Kafka source.
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	KafkaGroup   string   `mapstructure:"kafka_group"`

	MDNSEnabled bool `mapstructure:"mdns_enabled"`
}

const (
	envPrefix  = "UPLINKDASH"
	configName = "uplinkdash"

	defaultHTTPPort     = 8000
	defaultMetricsPort  = 9090
	defaultDatabasePath = "data/uplinks.db"
	defaultLogLevel     = "info"
	defaultMQTTTopic    = "application/+/device/+/event/up"
	defaultKafkaTopic   = "chirpstack.uplinks"
	defaultKafkaGroup   = "uplinkdash"
)

// Load reads defaults, then an optional uplinkdash.yaml from the first matching search path
// (the working directory when none are given), then UPLINKDASH_* environment variables.
func Load(searchPaths ...string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{"."}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", defaultHTTPPort)
	v.SetDefault("metrics_port", defaultMetricsPort)
	v.SetDefault("database_path", defaultDatabasePath)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("dataset_dir", "")
	v.SetDefault("mqtt_broker", "")
	v.SetDefault("mqtt_client_id", "")
	v.SetDefault("mqtt_topic", defaultMQTTTopic)
	v.SetDefault("mqtt_qos", 0)
	v.SetDefault("kafka_brokers", []string{})
	v.SetDefault("kafka_topic", defaultKafkaTopic)
	v.SetDefault("kafka_group", defaultKafkaGroup)
	v.SetDefault("mdns_enabled", false)
}

// Validate checks ranges and required companions of enabled sources.
func (c Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	// zero disables the metrics listener
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics_port %d", c.MetricsPort)
	}
	if c.MetricsPort == c.HTTPPort {
		return fmt.Errorf("metrics_port must differ from http_port (%d)", c.HTTPPort)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return errors.New("database_path must not be empty")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("invalid mqtt_qos %d", c.MQTTQoS)
	}
	if len(c.KafkaBrokers) > 0 {
		if strings.TrimSpace(c.KafkaTopic) == "" {
			return errors.New("kafka_topic is required when kafka_brokers is set")
		}
		if strings.TrimSpace(c.KafkaGroup) == "" {
			return errors.New("kafka_group is required when kafka_brokers is set")
		}
	}
	return nil
}

// splitList accepts both list values and a single comma-separated entry.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
