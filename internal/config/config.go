// Package config aggregates runtime configuration from environment variables
// and an optional config file. Values are read once at startup; the runner
// treats the resulting struct as read-only during a tick.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/tinoosan/debrix/internal/worker"
)

type Config struct {
	Server struct {
		Addr  string
		Token string
	}
	Log struct {
		Level      string
		Path       string
		MaxSize    int
		MaxBackups int
		MaxAge     int
	}
	Provider struct {
		APIKey string
		URL    string
	}
	DownloadClient struct {
		Client       string
		DownloadPath string
		MountPath    string
		Aria2URL     string
		Aria2Secret  string
	}
	General struct {
		DownloadLimit         int
		UnpackLimit           int
		TickSeconds           int
		TorrentRetryAttempts  int
		DownloadRetryAttempts int
		TorrentLifetime       int
		DeleteOnError         int
		FinishedAction        string
	}
	Database struct {
		URL string
	}
	Arr struct {
		SonarrURL    string
		SonarrAPIKey string
		RadarrURL    string
		RadarrAPIKey string
	}
}

// Load reads configuration with env prefix DEBRIX_ and an optional
// config.yaml in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEBRIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:6500")
	v.SetDefault("server.token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
	v.SetDefault("log.maxsize", 50)
	v.SetDefault("log.maxbackups", 3)
	v.SetDefault("log.maxage", 28)
	v.SetDefault("provider.apikey", "")
	v.SetDefault("provider.url", "")
	v.SetDefault("downloadclient.client", string(worker.ClientInternal))
	v.SetDefault("downloadclient.downloadpath", "")
	v.SetDefault("downloadclient.mountpath", "")
	v.SetDefault("downloadclient.aria2url", "http://127.0.0.1:6800/jsonrpc")
	v.SetDefault("downloadclient.aria2secret", "")
	v.SetDefault("general.downloadlimit", 2)
	v.SetDefault("general.unpacklimit", 1)
	v.SetDefault("general.tickseconds", 1)
	v.SetDefault("general.torrentretryattempts", 1)
	v.SetDefault("general.downloadretryattempts", 3)
	v.SetDefault("general.torrentlifetime", 0)
	v.SetDefault("general.deleteonerror", 0)
	v.SetDefault("general.finishedaction", "None")
	v.SetDefault("database.url", "")
	v.SetDefault("arr.sonarrurl", "")
	v.SetDefault("arr.sonarrapikey", "")
	v.SetDefault("arr.radarrurl", "")
	v.SetDefault("arr.radarrapikey", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Client returns the configured download backend, defaulting to the internal
// HTTP client for unknown values.
func (c *Config) Client() worker.Client {
	switch worker.Client(strings.ToLower(c.DownloadClient.Client)) {
	case worker.ClientAria2:
		return worker.ClientAria2
	case worker.ClientSymlink:
		return worker.ClientSymlink
	default:
		return worker.ClientInternal
	}
}

// DownloadLimit clamps general.downloadlimit to at least one.
func (c *Config) DownloadLimit() int {
	return clampMin(c.General.DownloadLimit, 1)
}

// UnpackLimit clamps general.unpacklimit to at least one.
func (c *Config) UnpackLimit() int {
	return clampMin(c.General.UnpackLimit, 1)
}

func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}
