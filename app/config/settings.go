// Package config loads server settings from defaults, a YAML file, the
// environment and command-line overrides, in that order of precedence.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

type Settings struct {
	Server  ServerSettings  `koanf:"server"`
	Log     LogSettings     `koanf:"log"`
	Metrics MetricsSettings `koanf:"metrics"`
	Storage StorageSettings `koanf:"storage"`
}

type ServerSettings struct {
	Bind string `koanf:"bind"`
	Port int    `koanf:"port"`
	// How long to wait for open connections to finish on shutdown.
	Shutdown time.Duration `koanf:"shutdown"`
}

type LogSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsSettings struct {
	// Address of the Prometheus endpoint. Empty disables it.
	Address string `koanf:"address"`
}

type StorageSettings struct {
	Dir        string `koanf:"dir"`
	DBFilename string `koanf:"dbfilename"`
	// Load Dir/DBFilename into the cache at startup.
	Preload bool `koanf:"preload"`
	Shards  int  `koanf:"shards"`
}

func Default() *Settings {
	return &Settings{
		Server: ServerSettings{
			Bind:     "0.0.0.0",
			Port:     6379,
			Shutdown: 10 * time.Second,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageSettings{
			Shards: 16,
		},
	}
}

// Address returns the host:port the server listens on.
func (s *Settings) Address() string {
	return net.JoinHostPort(s.Server.Bind, strconv.Itoa(s.Server.Port))
}

func (s *Settings) Validate() error {
	if s.Server.Port < 0 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", s.Server.Port)
	}

	if s.Server.Shutdown < 0 {
		return fmt.Errorf("server.shutdown must not be negative")
	}

	switch strings.ToLower(s.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be \"json\" or \"text\", not %q", s.Log.Format)
	}

	if s.Storage.Shards < 0 {
		return fmt.Errorf("storage.shards must not be negative")
	}

	if s.Storage.Preload && s.Storage.DBFilename == "" {
		return fmt.Errorf("storage.preload requires storage.dbfilename")
	}

	return nil
}
