package common

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" yaml:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" yaml:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" yaml:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" yaml:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" yaml:"reconnect" validate:"required,dive"`
}

// ===============================================================================
// Status Bridge Related Config

// StatusTopicConfig defines where status events are published
type StatusTopicConfig struct {
	// OnlineTopic is the subject receiving subscriber connected events
	OnlineTopic string `mapstructure:"online_topic" json:"online_topic" yaml:"online_topic" validate:"required,nefield=OfflineTopic"`
	// OfflineTopic is the subject receiving subscriber disconnected events
	OfflineTopic string `mapstructure:"offline_topic" json:"offline_topic" yaml:"offline_topic" validate:"required"`
	// StreamName is the JetStream stream capturing both topics
	StreamName string `mapstructure:"stream_name" json:"stream_name" yaml:"stream_name" validate:"required"`
	// MaxAge is the retention period of status events in the stream in seconds.
	// Zero means no age limit.
	MaxAge int `mapstructure:"max_age_sec" json:"max_age_sec" yaml:"max_age_sec" validate:"gte=0"`
}

// HealthCheckConfig defines the channel health check schedule
type HealthCheckConfig struct {
	// InitialDelay is the delay before the first health check in seconds
	InitialDelay int `mapstructure:"initial_delay_sec" json:"initial_delay_sec" yaml:"initial_delay_sec" validate:"gte=0"`
	// Interval is the duration between health checks in seconds
	Interval int `mapstructure:"interval_sec" json:"interval_sec" yaml:"interval_sec" validate:"gte=1"`
}

// StatusBridgeConfig defines the subscriber status bridge parameters
type StatusBridgeConfig struct {
	// Topics defines the status topics
	Topics StatusTopicConfig `mapstructure:"topics" json:"topics" yaml:"topics" validate:"required,dive"`
	// HealthCheck defines the channel health check schedule
	HealthCheck HealthCheckConfig `mapstructure:"health_check" json:"health_check" yaml:"health_check" validate:"required,dive"`
	// EligiblePrefix only subscriptions with this name prefix have their status published
	EligiblePrefix string `mapstructure:"eligible_prefix" json:"eligible_prefix" yaml:"eligible_prefix" validate:"required"`
	// EligibleMatch is how EligiblePrefix is matched against subscription names:
	// "prefix" (name starts with it) or "contains" (name contains it anywhere)
	EligibleMatch string `mapstructure:"eligible_match" json:"eligible_match" yaml:"eligible_match" validate:"required,oneof=prefix contains"`
	// PublishAckTimeout is the max duration to wait for a publish ACK in seconds
	PublishAckTimeout int `mapstructure:"publish_ack_timeout_sec" json:"publish_ack_timeout_sec" yaml:"publish_ack_timeout_sec" validate:"gte=1"`
	// MaxPendingPublish is the max number of un-ACKed publishes per channel
	MaxPendingPublish int `mapstructure:"max_pending_publish" json:"max_pending_publish" yaml:"max_pending_publish" validate:"gte=1"`
	// ShutdownGracePeriod is the max duration to wait for in-flight publishes
	// during shutdown in seconds
	ShutdownGracePeriod int `mapstructure:"shutdown_grace_sec" json:"shutdown_grace_sec" yaml:"shutdown_grace_sec" validate:"gte=1"`
}

// ConsumerAdvisoryConfig defines how JetStream consumer advisories are consumed
type ConsumerAdvisoryConfig struct {
	// Enabled whether to generate status events from JetStream consumer advisories
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	// StreamFilter is the stream name token used in the advisory subject. "*" means all.
	StreamFilter string `mapstructure:"stream_filter" json:"stream_filter" yaml:"stream_filter" validate:"required"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" yaml:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" yaml:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" yaml:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" yaml:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" yaml:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header" yaml:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers" yaml:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" yaml:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" yaml:"logging_config" validate:"required,dive"`
}

// APIEndpointConfig defines status bridge API endpoint config
type APIEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the status bridge APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" yaml:"path_prefix" validate:"required"`
}

// APIServerConfig defines configuration for the status bridge API server
type APIServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" yaml:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters
	Endpoints APIEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" yaml:"endpoint_config" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config
type SystemConfig struct {
	// NATS are the NATS related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" yaml:"nats" validate:"required,dive"`
	// Bridge are the status bridge config parameters
	Bridge StatusBridgeConfig `mapstructure:"bridge" json:"bridge" yaml:"bridge" validate:"required,dive"`
	// Advisory are the JetStream consumer advisory config parameters
	Advisory ConsumerAdvisoryConfig `mapstructure:"advisory" json:"advisory" yaml:"advisory" validate:"required,dive"`
	// API are the status bridge API server configs
	API *APIServerConfig `mapstructure:"api,omitempty" json:"api,omitempty" yaml:"api,omitempty" validate:"omitempty,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default NATS settings
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)

	// Default status bridge settings
	viper.SetDefault("bridge.topics.online_topic", "online")
	viper.SetDefault("bridge.topics.offline_topic", "offline")
	viper.SetDefault("bridge.topics.stream_name", "subscriber-status")
	viper.SetDefault("bridge.topics.max_age_sec", 86400)
	viper.SetDefault("bridge.health_check.initial_delay_sec", 5)
	viper.SetDefault("bridge.health_check.interval_sec", 30)
	viper.SetDefault("bridge.eligible_prefix", "ahenk")
	viper.SetDefault("bridge.eligible_match", "prefix")
	viper.SetDefault("bridge.publish_ack_timeout_sec", 10)
	viper.SetDefault("bridge.max_pending_publish", 256)
	viper.SetDefault("bridge.shutdown_grace_sec", 5)

	// Default consumer advisory settings
	viper.SetDefault("advisory.enabled", true)
	viper.SetDefault("advisory.stream_filter", "*")

	// Default API server settings
	viper.SetDefault("api.endpoint_config.path_prefix", "/")
	viper.SetDefault("api.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api.api_server.server_config.listen_port", 3000)
	viper.SetDefault("api.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("api.api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("api.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"api.api_server.logging_config.request_id_header", "Statusmq-Request-ID",
	)
	viper.SetDefault(
		"api.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}

// LoadSystemConfig parses the optional config file over the installed defaults, and
// validates the result
func LoadSystemConfig(configFile string, validate *validator.Validate) (*SystemConfig, error) {
	if len(configFile) > 0 {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config file %s: %w", configFile, err)
		}
	}
	var config SystemConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to parse config: %w", err)
	}
	if err := validate.Struct(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// RenderYAML renders the config in the config file layout
func (c *SystemConfig) RenderYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
