package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
)

// EnvPrefix namespaces environment overrides: REPLYBRIDGE_<KEY>, e.g.
// REPLYBRIDGE_COMMAND_TIMEOUT=5s or REPLYBRIDGE_TENANTS=contoso,northwind.
const EnvPrefix = "REPLYBRIDGE"

// keys without a default still need to be known to viper so AutomaticEnv
// picks them up during Unmarshal.
var envOnlyKeys = []string{
	"kafka_brokers", "kafka_client_id", "kafka_consumer_group",
	"rabbitmq_url", "nats_url",
	"aws_region", "aws_account_id", "aws_access_key_id", "aws_secret_access_key", "aws_endpoint",
	"tenants", "tenant_id",
	"redis_addr", "redis_password", "redis_db",
	"poison_queue", "retry_initial_interval", "retry_max_interval",
	"metrics_enabled", "metrics_port",
}

// NewViper returns a viper instance with the config defaults and
// REPLYBRIDGE_* environment lookups. Callers may bind flags before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// Load reads a YAML file, applies REPLYBRIDGE_* environment overrides and
// fills defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	return LoadViper(NewViper(), path)
}

// LoadViper is Load on an instance built by NewViper.
func LoadViper(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pubsub_system", "channel")
	v.SetDefault("response_partitions", []string{"0"})

	v.SetDefault("command_timeout", DefaultCommandTimeout)
	v.SetDefault("max_pending_requests", DefaultMaxPendingRequests)

	v.SetDefault("max_routes", DefaultMaxRoutes)
	v.SetDefault("route_ttl", DefaultRouteTTL)
	v.SetDefault("route_sweep_interval", DefaultRouteSweepInterval)
	v.SetDefault("route_store", RouteStoreMemory)
	v.SetDefault("redis_key_prefix", DefaultRedisKeyPrefix)

	v.SetDefault("publish_max_attempts", DefaultPublishMaxAttempts)
	v.SetDefault("publish_retry_interval", DefaultPublishRetryInterval)
	v.SetDefault("retry_max_retries", DefaultRetryMaxRetries)
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		splitListHook,
	)
}

var stringSliceType = reflect.TypeOf([]string(nil))

// splitListHook turns comma separated env values into trimmed string slices.
var splitListHook mapstructure.DecodeHookFuncType = func(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != stringSliceType {
		return data, nil
	}
	parts := strings.Split(reflect.ValueOf(data).String(), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
