// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

// Tablerelay-bridge watches rows in a spreadsheet-like grid and sends
// Matrix messages when configured triggers fire.
//
// On startup:
//  1. Loads the YAML configuration (--config or TABLERELAY_CONFIG).
//  2. Reads the access token and validates it with a whoami call.
//  3. Opens the room cache (in memory, or SQLite when configured).
//  4. Watches the configured rows file and runs the trigger pipeline
//     until terminated.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/tablerelay/tablerelay/config"
	"github.com/tablerelay/tablerelay/delivery"
	"github.com/tablerelay/tablerelay/directory"
	"github.com/tablerelay/tablerelay/grid"
	"github.com/tablerelay/tablerelay/gridfile"
	"github.com/tablerelay/tablerelay/lib/secret"
	"github.com/tablerelay/tablerelay/messaging"
	"github.com/tablerelay/tablerelay/pipeline"
	"github.com/tablerelay/tablerelay/roomstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		logLevel   string
	)
	pflag.StringVar(&configPath, "config", "", "path to tablerelay.yaml (overrides TABLERELAY_CONFIG)")
	pflag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pflag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	triggerMode, err := cfg.TriggerMode()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver.URL,
		APIVersion:    cfg.Homeserver.APIVersion,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer client.CloseIdleConnections()

	tokenBuffer, err := secret.ReadFromPath(cfg.Homeserver.TokenFile)
	if err != nil {
		return fmt.Errorf("reading access token: %w", err)
	}
	session, err := client.SessionFromToken(tokenBuffer.String())
	tokenBuffer.Close()
	if err != nil {
		return err
	}

	userID, err := session.WhoAmI(ctx)
	if err != nil {
		session.Close()
		return fmt.Errorf("validating access token: %w", err)
	}
	logger.Info("authenticated to homeserver",
		"homeserver", cfg.Homeserver.URL, "user_id", userID)

	cache, closeStore, err := openRoomCache(ctx, cfg, logger)
	if err != nil {
		session.Close()
		return err
	}
	defer closeStore()

	dir := directory.NewDirectory(session, cache, cfg.Message.RoomNamePrefix, logger)

	var limiter *rate.Limiter
	if cfg.Delivery.RatePerSecond > 0 {
		burst := cfg.Delivery.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Delivery.RatePerSecond), burst)
	}
	coordinator := delivery.NewCoordinator(dir, session, limiter, logger)

	individuals, groups := buildRecipients(cfg)
	p := pipeline.New(pipeline.Config{
		Client:      client,
		Directory:   dir,
		Coordinator: coordinator,
		Detector:    grid.NewDetector(cfg.Condition(), logger),
		Subject:     cfg.Message.Subject,
		Template:    cfg.Message.Template,
		TriggerMode: triggerMode,
		Individuals: individuals,
		Groups:      groups,
		Logger:      logger,
	})
	p.UseSession(session)
	defer p.Close()

	if cfg.Source.File == "" {
		logger.Info("no source file configured; waiting for termination")
		<-ctx.Done()
		return nil
	}

	source := gridfile.NewSource(
		cfg.Source.File,
		grid.FieldMapping(cfg.Source.FieldMapping),
		func(ctx context.Context, rows grid.Snapshot, mapping grid.FieldMapping) error {
			result, err := p.HandleRecords(ctx, rows, mapping)
			if err != nil {
				return err
			}
			if len(result.Failures) > 0 {
				logger.Warn("batch finished with failures",
					"successes", len(result.Successes), "failures", len(result.Failures))
			}
			return nil
		},
		logger,
	)

	logger.Info("watching rows file",
		"path", cfg.Source.File, "trigger_mode", triggerMode)
	if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openRoomCache returns the room cache, persistent when a cache path
// is configured, and a release function for the backing store.
func openRoomCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*directory.RoomCache, func(), error) {
	if cfg.Cache.Path == "" {
		return directory.NewRoomCache(logger), func() {}, nil
	}

	store, err := roomstore.Open(cfg.Cache.Path, logger)
	if err != nil {
		return nil, nil, err
	}
	cache, err := directory.NewPersistentRoomCache(ctx, store, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return cache, func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing room cache store failed", "error", err)
		}
	}, nil
}

// buildRecipients turns the configured recipient lists into directory
// recipients. Group members that match a configured individual share
// that individual's object, so a resolution for one serves both.
func buildRecipients(cfg *config.Config) ([]*directory.Individual, []*directory.Group) {
	byName := make(map[string]*directory.Individual)

	individuals := make([]*directory.Individual, 0, len(cfg.Recipients.Individuals))
	for _, individual := range cfg.Recipients.Individuals {
		resolved := &directory.Individual{DisplayName: individual.Name}
		byName[individual.Name] = resolved
		individuals = append(individuals, resolved)
	}

	groups := make([]*directory.Group, 0, len(cfg.Recipients.Groups))
	for _, group := range cfg.Recipients.Groups {
		members := make([]*directory.Individual, 0, len(group.Members))
		for _, name := range group.Members {
			member, ok := byName[name]
			if !ok {
				member = &directory.Individual{DisplayName: name}
				byName[name] = member
			}
			members = append(members, member)
		}
		groups = append(groups, &directory.Group{
			Name:    group.Name,
			Topic:   group.Topic,
			Members: members,
		})
	}
	return individuals, groups
}
