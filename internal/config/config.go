package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config wraps a viper instance preloaded with defaults, the optional
// config file, and WHISTLER_-prefixed environment variables.
type Config struct {
	v *viper.Viper
}

// New builds a Config. A missing config file is not an error; any
// other read failure is.
func New() (*Config, error) {
	v := viper.New()

	for _, o := range GatewayOptions {
		v.SetDefault(o.Key, o.Default)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/whistler/")

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !(errors.As(err, &notFoundErr) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("WHISTLER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{v: v}, nil
}

// BindFlags registers each option as a pflag and binds it to the
// corresponding viper key.
func (c *Config) BindFlags(fs *pflag.FlagSet, options []Option) error {
	for _, o := range options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case int:
			fs.Int(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		case []string:
			fs.StringSlice(o.Flag, v, o.Description)
		case time.Duration:
			fs.Duration(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}

	return nil
}

func (c *Config) GatewayAddress() string {
	return c.v.GetString(keyGatewayAddress) // WHISTLER_GATEWAY_ADDRESS
}

func (c *Config) GatewayHostKey() string {
	return c.v.GetString(keyGatewayHostKey) // WHISTLER_GATEWAY_HOST_KEY
}

func (c *Config) GatewayMetricsAddress() string {
	return c.v.GetString(keyGatewayMetricsAddress) // WHISTLER_GATEWAY_METRICS_ADDRESS
}

func (c *Config) GatewayKeepaliveInterval() time.Duration {
	return c.v.GetDuration(keyGatewayKeepaliveInterval) // WHISTLER_GATEWAY_KEEPALIVE_INTERVAL
}

func (c *Config) GatewayKeepaliveMax() int {
	return c.v.GetInt(keyGatewayKeepaliveMax) // WHISTLER_GATEWAY_KEEPALIVE_MAX
}

func (c *Config) AuthAllowAny() bool {
	return c.v.GetBool(keyAuthAllowAny) // WHISTLER_AUTH_ALLOW_ANY
}

func (c *Config) Kubeconfig() string {
	return c.v.GetString(keyKubeconfig) // WHISTLER_KUBECONFIG
}

func (c *Config) InCluster() bool {
	return c.v.GetBool(keyInCluster) // WHISTLER_IN_CLUSTER
}

func (c *Config) DirectoryUsersPath() string {
	return c.v.GetString(keyDirectoryUsersPath) // WHISTLER_DIRECTORY_USERS_PATH
}

func (c *Config) DirectorySelectorsPath() string {
	return c.v.GetString(keyDirectorySelectorsPath) // WHISTLER_DIRECTORY_SELECTORS_PATH
}

func (c *Config) DirectoryVolumesPath() string {
	return c.v.GetString(keyDirectoryVolumesPath) // WHISTLER_DIRECTORY_VOLUMES_PATH
}

func (c *Config) SessionSocatPath() string {
	return c.v.GetString(keySessionSocatPath) // WHISTLER_SESSION_SOCAT_PATH
}
