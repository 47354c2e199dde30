package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/darkistan/routerbot/internal/dispatch"
	"github.com/darkistan/routerbot/internal/notify"
	"github.com/darkistan/routerbot/internal/registry"
	"github.com/darkistan/routerbot/internal/session"
	"github.com/darkistan/routerbot/internal/sshexec"
	"github.com/darkistan/routerbot/internal/store"
	"github.com/darkistan/routerbot/internal/telegram"
)

// adminConfig is one administrator notification target from the config
// file.
type adminConfig struct {
	Name     string `mapstructure:"name"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot",
	Long: `Run the bot in the foreground until interrupted.

Startup fails if the bot token is missing or the device registry cannot
be loaded; the process must not start serving with a broken config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serveRun() error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	token := viper.GetString("bot_token")
	if token == "" {
		return fmt.Errorf("bot_token is not configured (set it in the config file or ROUTERBOT_BOT_TOKEN)")
	}

	registryPath := viper.GetString("registry_path")
	loadRegistry := func() (registry.Registry, error) {
		return registry.Load(registryPath)
	}
	reg, err := loadRegistry()
	if err != nil {
		return fmt.Errorf("device registry: %w", err)
	}
	logger.Info("device registry loaded", "path", registryPath, "devices", len(reg))

	sinks, closeStore, err := buildSinks(logger)
	if err != nil {
		return err
	}
	defer closeStore()

	bot, err := telegram.New(token, logger)
	if err != nil {
		return fmt.Errorf("telegram auth: %w", err)
	}

	d := &dispatch.Dispatcher{
		LoadRegistry: loadRegistry,
		Sessions:     session.NewStore(),
		Exec:         sshexec.NewClient(viper.GetDuration("ssh.timeout"), viper.GetInt("ssh.max_attempts")),
		Notifier:     notify.New(logger, sinks...),
		Out:          bot,
		Logger:       logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("bot started", "username", bot.Username(), "sinks", len(sinks))
	bot.Run(ctx, d, viper.GetDuration("poll_timeout"))
	logger.Info("bot stopped")
	return nil
}

// buildSinks assembles the notification fan-out: the process log, the
// audit database when configured, and one Telegram sink per admin
// entry.
func buildSinks(logger *slog.Logger) ([]notify.Sink, func(), error) {
	sinks := []notify.Sink{notify.LogSink{Logger: logger}}
	closeStore := func() {}

	if dbPath := viper.GetString("db_path"); dbPath != "" {
		s, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("audit store: %w", err)
		}
		if err := s.Migrate(context.Background()); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("audit store migrate: %w", err)
		}
		sinks = append(sinks, store.Sink{Store: s})
		closeStore = func() { _ = s.Close() }
	}

	var admins []adminConfig
	if err := viper.UnmarshalKey("admins", &admins); err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("parse admins config: %w", err)
	}
	for i, a := range admins {
		name := a.Name
		if name == "" {
			name = fmt.Sprintf("admin-%d", i+1)
		}
		if a.BotToken == "" || a.ChatID == 0 {
			closeStore()
			return nil, nil, fmt.Errorf("admin sink %s: bot_token and chat_id are required", name)
		}
		sink, err := telegram.NewAdminSink(name, a.BotToken, a.ChatID)
		if err != nil {
			// A dead admin bot should not keep the service down; the
			// remaining sinks still get every notification.
			logger.Error("admin sink unavailable, continuing without it", "sink", name, "error", err)
			continue
		}
		sinks = append(sinks, sink)
	}

	return sinks, closeStore, nil
}
