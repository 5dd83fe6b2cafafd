package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vassist/internal/assistant"
	"vassist/internal/bus"
	"vassist/internal/channel"
	"vassist/internal/config"
	"vassist/internal/dialog"
	"vassist/internal/domain"
	"vassist/internal/manifest"
	"vassist/internal/metrics"
	"vassist/internal/security"
	"vassist/internal/skillhost"
	"vassist/internal/skills/calendar"
	"vassist/internal/state"
	"vassist/internal/transport"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "vassist",
		Short: "vassist: a virtual assistant host with remote skills",
		Long:  "vassist is a conversational assistant that dispatches utterances to remote skill bots over websocket connections.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.vassist/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(skillCmd())
	root.AddCommand(manifestCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyLogLevel(cfg)
	return cfg, nil
}

func applyLogLevel(cfg *config.Config) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	out := os.Stderr
	if cfg.General.LogFile != "" {
		if f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = f
		} else {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
		}
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and skill manifest directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(config.ExpandPath(cfg.Skills.ManifestDir), 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "manifests", cfg.Skills.ManifestDir)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE:  runChat,
	}
}

// host bundles the pieces assembled for the host bot side.
type host struct {
	service *assistant.Service
	bus     *bus.InMemoryBus
	store   *state.Store
}

func (h *host) close() {
	h.bus.Close()
	h.store.Close()
}

// buildHost wires the store, skill router, dialogs, and bot into a service
// that consumes the message bus.
func buildHost(cfg *config.Config) (*host, error) {
	store, err := state.NewStore(cfg.State.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	manifests, err := manifest.LoadDirectory(cfg.Skills.ManifestDir, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load manifests: %w", err)
	}
	router, err := manifest.NewRouter(manifests)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("skill router: %w", err)
	}

	creds := security.NewAppCredentials(cfg.Host.AppID, cfg.Host.AppPassword)
	events := bus.NewEventBus(logger)
	events.On("*", func(ev bus.Event) {
		logger.Debug("event", "type", ev.Type, "source", ev.Source)
	})

	authID := cfg.Skills.AuthDialogID
	if authID == "" {
		authID = assistant.DefaultAuthDialogID
	}

	recognizer := assistant.NewKeywordRecognizer(manifests, logger)
	mainDialog := assistant.NewMainDialog(router, recognizer, events, cfg.General.Name, logger)

	dialogs := dialog.NewSet().
		Add(mainDialog).
		Add(assistant.NewTokenPromptDialog(authID))
	for _, m := range manifests {
		m := m
		dialogs.Add(dialog.NewSkillDialog(dialog.SkillDialogConfig{
			Manifest: m,
			NewTransport: func() domain.SkillTransport {
				return transport.New(m, creds, logger)
			},
			AuthDialogID: authID,
			Context:      store,
			Logger:       logger,
		}))
	}

	bot := assistant.NewBot(dialogs, store, events, logger)
	messageBus := bus.New(cfg.Host.BusBuffer, logger)

	return &host{
		service: assistant.NewService(messageBus, bot, logger),
		bus:     messageBus,
		store:   store,
	}, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		logger.Warn("config not found, using defaults", "err", err)
		cfg = config.Defaults()
		cfg.State.DBPath = config.ExpandPath(cfg.State.DBPath)
		cfg.Skills.ManifestDir = config.ExpandPath(cfg.Skills.ManifestDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := buildHost(cfg)
	if err != nil {
		return err
	}
	defer h.close()

	go func() {
		if err := h.service.Run(ctx); err != nil {
			logger.Error("service stopped", "err", err)
		}
	}()

	cliCh := channel.NewCLI(channel.CLIConfig{Logger: logger})
	return cliCh.Start(ctx, h.bus)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the host bot with all enabled channels",
		Long:  "Starts the host service plus the enabled channels (Telegram, CLI). Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := buildHost(cfg)
	if err != nil {
		return err
	}

	go func() {
		if err := h.service.Run(ctx); err != nil {
			logger.Error("service stopped", "err", err)
		}
	}()

	var telegramCh *channel.Telegram
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		telegramCh = channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		})
		go func() {
			if err := telegramCh.Start(ctx, h.bus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Metrics.Endpoint, metrics.Collector.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()
		logger.Info("metrics enabled", "addr", cfg.Metrics.Addr, "endpoint", cfg.Metrics.Endpoint)
	}

	if cfg.Channels.CLI.Enabled {
		cliCh := channel.NewCLI(channel.CLIConfig{Logger: logger})
		go func() {
			if err := cliCh.Start(ctx, h.bus); err != nil {
				logger.Error("cli channel error", "err", err)
			}
		}()
	}

	logger.Info("host started. Press Ctrl+C to stop.")
	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if telegramCh != nil {
			telegramCh.Stop()
		}
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}
		h.close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func skillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skill",
		Short: "Run the calendar skill host",
		Long:  "Serves the calendar skill over the websocket channel, the manifest endpoint, and a plain HTTP activity endpoint.",
		RunE:  runSkill,
	}
}

func runSkill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := state.NewStore(cfg.State.DBPath, logger)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	defer store.Close()

	m, err := manifest.LoadFile(cfg.SkillHost.ManifestPath)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	var validator *security.Validator
	if cfg.SkillHost.AllowAnonymous {
		logger.Warn("running without caller authentication")
		validator = security.NewAnonymousValidator()
	} else {
		validator = security.NewValidator(cfg.SkillHost.AppPassword, cfg.SkillHost.AllowedCallers)
	}

	srv := skillhost.NewServer(skillhost.ServerConfig{
		Port:      cfg.SkillHost.Port,
		Bot:       calendar.NewBot(store, logger),
		Manifest:  m,
		Validator: validator,
		Logger:    logger,
	})
	return srv.Start(ctx)
}

func manifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest",
		Short: "Print the skill manifest this host serves",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := manifest.LoadFile(cfg.SkillHost.ManifestPath)
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}
			data, _ := json.MarshalIndent(m, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)

			manifests, err := manifest.LoadDirectory(cfg.Skills.ManifestDir, logger)
			if err != nil {
				logger.Info("skills", "dir", cfg.Skills.ManifestDir, "err", err)
			} else {
				logger.Info("skills", "dir", cfg.Skills.ManifestDir, "count", len(manifests))
				for _, m := range manifests {
					logger.Info("skill", "id", m.ID, "name", m.Name, "endpoint", m.Endpoint)
				}
			}

			store, err := state.NewStore(cfg.State.DBPath, logger)
			if err != nil {
				logger.Info("state", "path", cfg.State.DBPath, "healthy", false, "err", err)
			} else {
				store.Close()
				logger.Info("state", "path", cfg.State.DBPath, "healthy", true)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. skillHost.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. channels.cli.enabled false)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
