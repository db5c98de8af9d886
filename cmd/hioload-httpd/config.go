// File: cmd/hioload-httpd/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/urfave/cli/v2"

	"github.com/momentics/hioload-httpd/control"
	"github.com/momentics/hioload-httpd/server"
)

// appConfig is the process configuration: the server section plus logging.
type appConfig struct {
	Server server.Config `koanf:"server"`
	Log    logConfig     `koanf:"log"`
}

type logConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"port":         "server.listen_port",
	"control-port": "server.control_port",
	"max-sessions": "server.max_sessions",
	"lru-purge":    "server.lru_purge",
	"poller":       "server.poller",
	"loop-cpu":     "server.loop_cpu",
	"log-level":    "log.level",
	"log-json":     "log.json",
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"HTTPD_CONFIG"},
		},
		&cli.UintFlag{Name: "port", Aliases: []string{"p"}, Usage: "TCP listen port"},
		&cli.UintFlag{Name: "control-port", Usage: "loopback UDP control port (0 = ephemeral)"},
		&cli.IntFlag{Name: "max-sessions", Usage: "session table capacity"},
		&cli.BoolFlag{Name: "lru-purge", Usage: "evict the least recently used session when full"},
		&cli.StringFlag{Name: "poller", Usage: "readiness multiplexer: poll, epoll or auto"},
		&cli.IntFlag{Name: "loop-cpu", Usage: "pin the loop thread to a CPU (-1 = off)"},
		&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn or error"},
		&cli.BoolFlag{Name: "log-json", Usage: "log as JSON"},
	}
}

func defaults() map[string]any {
	d := server.DefaultConfig()
	return map[string]any{
		"server.max_sessions":     d.MaxSessions,
		"server.lru_purge":        d.LRUPurgeEnabled,
		"server.reject_overflow":  d.RejectOverflow,
		"server.listen_port":      d.ListenPort,
		"server.control_port":     d.ControlPort,
		"server.recv_timeout":     d.RecvTimeout.String(),
		"server.send_timeout":     d.SendTimeout.String(),
		"server.backlog":          d.Backlog,
		"server.control_queue":    d.ControlQueue,
		"server.read_buffer":      d.ReadBufferSize,
		"server.poller":           d.Poller,
		"server.loop_cpu":         d.LoopCPU,
		"server.shutdown_timeout": d.ShutdownTimeout.String(),
		"log.level":               "info",
		"log.json":                false,
	}
}

// loadConfig layers defaults, the file, HTTPD_* variables and explicit flags.
func loadConfig(c *cli.Context) (*control.Loader, *appConfig, error) {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.Value(flag)
		}
	}
	loader := control.NewLoader(
		control.WithDefaults(defaults()),
		control.WithConfigFile(c.String("config")),
		control.WithOverrides(overrides),
	)
	cfg := &appConfig{Server: *server.DefaultConfig()}
	if err := loader.Load(cfg); err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

func newLogger(cfg logConfig) hclog.InterceptLogger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:       "httpd",
		Level:      level,
		JSONFormat: cfg.JSON,
		Output:     os.Stderr,
	})
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "print the effective configuration",
		Action: func(c *cli.Context) error {
			loader, cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := cfg.Server.Validate(); err != nil {
				return err
			}
			out, err := yaml.Parser().Marshal(loader.Raw())
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = c.App.Writer.Write(out)
			return err
		},
	}
}
