// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/buildqueue"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/clock"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/config"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/github"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/jenkins"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/notify"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/process"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/profile"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/service"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/version"
)

func runServe(args []string, stdout io.Writer) error {
	var configPath, listen string
	flags := newFlagSet("serve")
	flags.StringVar(&configPath, "config", "", "config file (default $"+config.EnvironmentVariable+")")
	flags.StringVar(&listen, "listen", "", "HTTP listen address, overriding the config file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() > 0 {
		return fmt.Errorf("serve: unexpected argument %q", flags.Arg(0))
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if err := cfg.UnsealCredentials(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	level, _ := cfg.Level()
	logger := newLogger(os.Stderr, level)
	logger.Info("starting jenkins-proxy", "version", version.Info())

	ctx, stop := process.SignalContext(context.Background())
	defer stop()

	proxy, err := newDaemon(cfg, daemonOptions{Logger: logger})
	if err != nil {
		return err
	}
	defer proxy.Close()
	return proxy.Run(ctx)
}

// daemonOptions carries the dependencies tests replace.
type daemonOptions struct {
	Clock clock.Clock

	// GitHubHTTPClient and JenkinsHTTPClient default to the clients'
	// own defaults.
	GitHubHTTPClient  *http.Client
	JenkinsHTTPClient *http.Client
	SlackHTTPClient   *http.Client

	Logger *slog.Logger
}

// daemon is the wired proxy: one poller per queue, the scheduler and
// the HTTP server, all sharing one task database.
type daemon struct {
	registry  *profile.Registry
	database  *buildqueue.Database
	pollers   []*buildqueue.Poller
	scheduler *Scheduler
	server    *service.HTTPServer
	logger    *slog.Logger
}

func newDaemon(cfg *config.Config, options daemonOptions) (*daemon, error) {
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	compression, err := buildqueue.ParseCompression(cfg.Store.PayloadCompression)
	if err != nil {
		return nil, err
	}

	githubClient, err := github.NewClient(github.Config{
		BaseURL:    cfg.GitHub.BaseURL,
		Token:      cfg.GitHub.Token,
		UserAgent:  cfg.GitHub.UserAgent,
		HTTPClient: options.GitHubHTTPClient,
		Clock:      clk,
		Logger:     logger.With("component", "github"),
	})
	if err != nil {
		return nil, err
	}
	jenkinsClient, err := jenkins.NewClient(jenkins.Config{
		BaseURL:     cfg.Jenkins.BaseURL,
		User:        cfg.Jenkins.User,
		APIToken:    cfg.Jenkins.APIToken,
		CrumbIssuer: cfg.Jenkins.CrumbIssuer,
		HTTPClient:  options.JenkinsHTTPClient,
		Logger:      logger.With("component", "jenkins"),
	})
	if err != nil {
		return nil, err
	}

	database, err := buildqueue.OpenDatabase(buildqueue.DatabaseConfig{
		Path:        cfg.Store.Path,
		Compression: compression,
		Clock:       clk,
		Logger:      logger.With("component", "store"),
	})
	if err != nil {
		return nil, err
	}

	reporter := buildqueue.NewReporter(buildqueue.ReporterConfig{
		Poster: githubClient,
		Notifier: notify.NewSlack(notify.SlackConfig{
			HTTPClient: options.SlackHTTPClient,
			Logger:     logger.With("component", "slack"),
		}),
		Logger: logger.With("component", "reporter"),
	})
	dispatcher := buildqueue.NewDispatcher(buildqueue.DispatcherConfig{
		Executor: jenkinsClient,
		Queues:   database,
		Resolver: githubClient,
		Logger:   logger.With("component", "dispatcher"),
	})

	var pollers []*buildqueue.Poller
	for _, queue := range registry.Queues() {
		poller, err := buildqueue.NewPoller(buildqueue.PollerConfig{
			Store:      database.Queue(queue),
			Executor:   jenkinsClient,
			Reporter:   reporter,
			Profiles:   registry,
			ShortDelay: cfg.Poller.ShortDelay,
			RetryDelay: cfg.Poller.RetryDelay,
			Logger:     logger.With("component", "poller"),
		})
		if err != nil {
			database.Close()
			return nil, err
		}
		pollers = append(pollers, poller)
	}

	scheduler, err := NewScheduler(registry.All(), dispatcher, clk, logger.With("component", "scheduler"))
	if err != nil {
		database.Close()
		return nil, err
	}

	proxy := &daemon{
		registry:  registry,
		database:  database,
		pollers:   pollers,
		scheduler: scheduler,
		logger:    logger,
	}

	mux := http.NewServeMux()
	NewManualBuildHandler(registry, dispatcher, logger.With("component", "manual")).Register(mux)
	mux.HandleFunc("GET /healthz", proxy.serveHealth)
	mux.Handle("/", NewWebhookHandler(WebhookConfig{
		Secret:     []byte(cfg.GitHub.WebhookSecret),
		Profiles:   registry,
		Submitter:  dispatcher,
		Pulls:      githubClient,
		Deliveries: service.NewDeliveryTracker(service.DefaultDeliveryWindow, clk),
		Logger:     logger.With("component", "webhook"),
	}))
	proxy.server = service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.Listen,
		Handler: service.AccessLog(logger, mux),
		Logger:  logger,
	})
	return proxy, nil
}

// Run serves until ctx is cancelled or a component fails. Tasks in
// flight stay in the database and are resumed on the next start.
func (d *daemon) Run(ctx context.Context) error {
	d.warnOrphanedQueues(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	failures := make(chan error, len(d.pollers)+2)
	start := func(name string, run func(context.Context) error) {
		wg.Go(func() {
			if err := run(ctx); err != nil {
				failures <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		})
	}

	start("http server", d.server.Serve)
	start("scheduler", d.scheduler.Run)
	for _, poller := range d.pollers {
		start("poller", poller.Run)
	}

	select {
	case <-d.server.Ready():
		d.logger.Info("jenkins-proxy running",
			"address", d.server.Addr().String(),
			"profiles", d.registry.Len(),
			"queues", len(d.pollers),
			"schedules", d.scheduler.Len(),
		)
	case <-ctx.Done():
	}

	<-ctx.Done()
	d.logger.Info("shutting down")
	wg.Wait()
	close(failures)

	var errs []error
	for err := range failures {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP listen address once the server is ready.
func (d *daemon) Addr() string {
	<-d.server.Ready()
	return d.server.Addr().String()
}

// Close releases the task database.
func (d *daemon) Close() error {
	return d.database.Close()
}

// warnOrphanedQueues logs stored tasks whose queue no configured
// profile uses. They stay in the database until a profile names the
// queue again.
func (d *daemon) warnOrphanedQueues(ctx context.Context) {
	lengths, err := d.database.QueueLengths(ctx)
	if err != nil {
		d.logger.Warn("cannot count stored tasks", "error", err)
		return
	}
	configured := d.registry.Queues()
	for queue, count := range lengths {
		if !slices.Contains(configured, queue) {
			d.logger.Warn("stored tasks belong to an unconfigured queue", "queue", queue, "count", count)
		}
	}
}

// serveHealth reports the number of stored tasks per queue.
func (d *daemon) serveHealth(writer http.ResponseWriter, request *http.Request) {
	lengths, err := d.database.QueueLengths(request.Context())
	if err != nil {
		respond(writer, http.StatusServiceUnavailable, err.Error())
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(struct {
		Version string         `json:"version"`
		Queues  map[string]int `json:"queues"`
	}{version.Info(), lengths})
}
