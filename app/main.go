package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mlkmahmud/respkv/app/cache"
	"github.com/mlkmahmud/respkv/app/config"
	"github.com/mlkmahmud/respkv/app/logger"
	"github.com/mlkmahmud/respkv/app/metrics"
	"github.com/mlkmahmud/respkv/app/server"
)

// Settings keys set by each command-line flag.
var flagKeys = map[string]string{
	"bind":         "server.bind",
	"port":         "server.port",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"metrics-addr": "metrics.address",
	"dir":          "storage.dir",
	"dbfilename":   "storage.dbfilename",
	"preload":      "storage.preload",
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "redis-server",
		Usage:     "in-memory key-value store speaking the RESP protocol",
		ArgsUsage: "[dir] [dbfilename]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML configuration file",
				EnvVars: []string{"REDIS_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "bind",
				Usage: "address to listen on",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "TCP port to listen on",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address",
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "directory reported by CONFIG GET dir",
			},
			&cli.StringFlag{
				Name:  "dbfilename",
				Usage: "file name reported by CONFIG GET dbfilename",
			},
			&cli.BoolFlag{
				Name:  "preload",
				Usage: "load string keys from <dir>/<dbfilename> at startup",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	if c.NArg() > 2 {
		return fmt.Errorf("expected at most 2 arguments [dir] [dbfilename], got %d", c.NArg())
	}

	settings, err := config.Load(
		config.WithConfigFile(c.String("config")),
		config.WithOverrides(overrides(c)),
	)

	if err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Level:  settings.Log.Level,
		Format: settings.Log.Format,
		Output: os.Stderr,
	})

	store := cache.NewCache(cache.CacheConfig{Shards: settings.Storage.Shards})
	serverConfig := server.NewConfig(settings.Storage.Dir, settings.Storage.DBFilename)

	if settings.Storage.Preload {
		if _, err := server.Preload(store, serverConfig.SnapshotPath(), log); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics

	if addr := settings.Metrics.Address; addr != "" {
		m = metrics.New(store)

		go func() {
			if err := m.Serve(ctx, addr, log); err != nil {
				log.Error("metrics endpoint stopped", "error", err)
			}
		}()
	}

	srv := server.NewServer(server.ServerOpts{
		Address:         settings.Address(),
		Config:          serverConfig,
		Store:           store,
		Logger:          log,
		Metrics:         m,
		ShutdownTimeout: settings.Server.Shutdown,
	})

	if err := srv.Start(ctx); err != nil {
		return err
	}

	log.Info("server stopped")

	return nil
}

// overrides collects explicitly set flags and the positional dir and
// dbfilename. Positionals win over their flag equivalents.
func overrides(c *cli.Context) map[string]any {
	values := map[string]any{}

	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			values[key] = c.Value(flag)
		}
	}

	if c.NArg() > 0 {
		values["storage.dir"] = c.Args().Get(0)
	}

	if c.NArg() > 1 {
		values["storage.dbfilename"] = c.Args().Get(1)
	}

	return values
}
