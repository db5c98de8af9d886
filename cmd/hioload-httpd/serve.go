// File: cmd/hioload-httpd/serve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"encoding/json"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/momentics/hioload-httpd/control"
	"github.com/momentics/hioload-httpd/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "run the server until SIGINT or SIGTERM",
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	loader, cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	if loader.FilePath() != "" {
		loader.OnReload(func(l *control.Loader) {
			level := hclog.LevelFromString(l.String("log.level"))
			if level == hclog.NoLevel {
				return
			}
			log.SetLevel(level)
			log.Info("log level changed", "level", level.String())
		})
		w, err := control.NewWatcher(loader, log.Named("config"))
		if err != nil {
			log.Warn("configuration will not be reloaded", "error", err)
		} else {
			defer w.Close()
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)

	srv := server.New(&cfg.Server,
		server.WithLogger(log),
		server.WithRegistry(registry),
		server.WithDebugProbes(probes),
	)
	if err := registerHandlers(srv, registry, probes); err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	log.Info("serving", "version", version, "addr", srv.Addr().String())

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	if c.Context.Err() == nil {
		log.Info("signal received, shutting down")
	}
	return srv.Stop()
}

func registerHandlers(srv *server.Server, registry *prometheus.Registry, probes *control.DebugProbes) error {
	routes := []struct {
		method, pattern string
		fn              server.HandlerFunc
	}{
		{http.MethodGet, "/", index},
		{"", "/echo", echo},
		{http.MethodGet, "/debug/state", debugState(probes)},
		{http.MethodGet, "/metrics", server.Adapt(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))},
	}
	for _, rt := range routes {
		if err := srv.Register(rt.method, rt.pattern, rt.fn, nil); err != nil {
			return err
		}
	}
	return nil
}

func index(r *server.Request) error {
	r.ResponseHeader().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := r.WriteString("hioload-httpd " + version + "\n")
	return err
}

// echo answers with the request body, or the query string for bodiless requests.
func echo(r *server.Request) error {
	if ct := r.Header().Get("Content-Type"); ct != "" {
		r.ResponseHeader().Set("Content-Type", ct)
	}
	n, err := io.Copy(r, r.Body())
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = r.WriteString(r.Raw().URL.RawQuery)
	}
	return err
}

// debugState dumps the probes as JSON. ?prefix=server. narrows the dump to one
// group and ?names lists the registered probes without running them.
func debugState(probes *control.DebugProbes) server.HandlerFunc {
	return func(r *server.Request) error {
		r.ResponseHeader().Set("Content-Type", "application/json")
		enc := json.NewEncoder(r)
		enc.SetIndent("", "  ")
		if r.Raw().URL.Query().Has("names") {
			return enc.Encode(probes.Names())
		}
		return enc.Encode(probes.Dump(r.Query("prefix")))
	}
}
