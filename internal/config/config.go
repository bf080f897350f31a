package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Adapters  AdaptersConfig  `mapstructure:"adapters"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	TokenExpiry int    `mapstructure:"token_expiry"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebSocketConfig struct {
	PingInterval     int `mapstructure:"ping_interval"`
	PongTimeout      int `mapstructure:"pong_timeout"`
	WriteTimeout     int `mapstructure:"write_timeout"`
	SendBufferSize   int `mapstructure:"send_buffer_size"`
	MaxMessageSize   int `mapstructure:"max_message_size"`
	DiscoveryTimeout int `mapstructure:"discovery_timeout"`
}

type AdaptersConfig struct {
	HealthCheckInterval string       `mapstructure:"health_check_interval"`
	Tuya                TuyaConfig   `mapstructure:"tuya"`
	MQTT                MQTTConfig   `mapstructure:"mqtt"`
	Modbus              ModbusConfig `mapstructure:"modbus"`
}

// TuyaConfig configures the Tuya cloud adapter
type TuyaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	AccessID       string `mapstructure:"access_id"`
	AccessSecret   string `mapstructure:"access_secret"`
	RequestTimeout string `mapstructure:"request_timeout"`
	PollInterval   string `mapstructure:"poll_interval"`
	RetryAttempts  int    `mapstructure:"retry_attempts"`
	RetryBackoff   string `mapstructure:"retry_backoff"`
	LocalDiscovery bool   `mapstructure:"local_discovery"`
}

// MQTTConfig configures the generic MQTT adapter
type MQTTConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerURL      string `mapstructure:"broker_url"`
	ClientID       string `mapstructure:"client_id"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	StateTopic     string `mapstructure:"state_topic"`
	CommandTopic   string `mapstructure:"command_topic"`
	PublishTimeout string `mapstructure:"publish_timeout"`
}

// ModbusConfig configures the Modbus adapter placeholder
type ModbusConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type CacheConfig struct {
	StatusTTL string `mapstructure:"status_ttl"`
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("adapters.tuya.access_id", "TUYA_ACCESS_ID")
	viper.BindEnv("adapters.tuya.access_secret", "TUYA_ACCESS_SECRET")
	viper.BindEnv("adapters.mqtt.broker_url", "MQTT_BROKER_URL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is fine, defaults and env vars apply
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 3001)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "release")

	viper.SetDefault("database.path", "./data/devicehub.db")
	viper.SetDefault("database.migrations_path", "./migrations")
	viper.SetDefault("database.max_connections", 10)

	viper.SetDefault("auth.enabled", true)
	viper.SetDefault("auth.token_expiry", 3600)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("websocket.ping_interval", 54)
	viper.SetDefault("websocket.pong_timeout", 60)
	viper.SetDefault("websocket.write_timeout", 10)
	viper.SetDefault("websocket.send_buffer_size", 256)
	viper.SetDefault("websocket.max_message_size", 4096)
	viper.SetDefault("websocket.discovery_timeout", 30)

	viper.SetDefault("adapters.health_check_interval", "60s")
	viper.SetDefault("adapters.tuya.enabled", false)
	viper.SetDefault("adapters.tuya.base_url", "https://openapi.tuyaeu.com")
	viper.SetDefault("adapters.tuya.request_timeout", "10s")
	viper.SetDefault("adapters.tuya.poll_interval", "30s")
	viper.SetDefault("adapters.tuya.retry_attempts", 3)
	viper.SetDefault("adapters.tuya.retry_backoff", "2s")
	viper.SetDefault("adapters.tuya.local_discovery", true)
	viper.SetDefault("adapters.mqtt.enabled", false)
	viper.SetDefault("adapters.mqtt.state_topic", "devices/+/state")
	viper.SetDefault("adapters.mqtt.command_topic", "devices/%s/set")
	viper.SetDefault("adapters.mqtt.publish_timeout", "5s")
	viper.SetDefault("adapters.modbus.enabled", false)

	viper.SetDefault("cache.status_ttl", "15s")
}

// ParseDuration parses a duration string falling back to a default
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
