// Command giftagg aggregates TON gift listings across marketplaces and
// streams lowest-price changes to WebSocket subscribers.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/alanyoungcy/giftagg/internal/app"
	"github.com/alanyoungcy/giftagg/internal/config"
	"github.com/alanyoungcy/giftagg/internal/crypto"
	"github.com/alanyoungcy/giftagg/internal/platform/telegram"
)

func main() {
	logger := newLogger("info")
	slog.SetDefault(logger)

	cliApp := &cli.App{
		Name:  "giftagg",
		Usage: "TON gift listing aggregator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.toml",
				Usage:   "path to configuration file",
				EnvVars: []string{"GIFTAGG_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			cmdServe,
			cmdSync,
			cmdSweep,
			cmdSeed,
			cmdArchive,
			cmdMigrate,
			cmdEncryptSecret,
			cmdTelegramLogin,
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		slog.Error("giftagg exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

var cmdServe = &cli.Command{
	Name:  "serve",
	Usage: "run the scheduler, job worker and HTTP/WebSocket server per the configured mode",
	Action: func(cctx *cli.Context) error {
		cfg, logger, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		logger.Info("giftagg starting",
			slog.String("mode", cfg.Mode),
			slog.String("config", cctx.String("config")),
			slog.Any("settings", config.RedactedConfig(cfg)),
		)

		application := app.New(cfg, logger)
		defer application.Close()

		ctx, stop := signalContext(cctx)
		defer stop()

		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("giftagg stopped")
		return nil
	},
}

var cmdSync = &cli.Command{
	Name:  "sync",
	Usage: "run one listing sync and print the stats",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "market",
			Usage: "only sync this market slug",
		},
	},
	Action: func(cctx *cli.Context) error {
		return oneShot(cctx, func(ctx context.Context, a *app.App) (any, error) {
			return a.SyncOnce(ctx, cctx.String("market"))
		})
	},
}

var cmdSweep = &cli.Command{
	Name:  "sweep",
	Usage: "deactivate listings not seen within the ttl",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "ttl",
			Usage: "staleness threshold (defaults to sweep.ttl)",
		},
	},
	Action: func(cctx *cli.Context) error {
		return oneShot(cctx, func(ctx context.Context, a *app.App) (any, error) {
			return a.Sweep(ctx, cctx.Duration("ttl"))
		})
	},
}

var cmdSeed = &cli.Command{
	Name:  "seed",
	Usage: "write the market registry and configured collections",
	Action: func(cctx *cli.Context) error {
		return oneShot(cctx, func(ctx context.Context, a *app.App) (any, error) {
			res, err := a.Seed(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]int{"markets": len(res.Markets), "collections": len(res.Collections)}, nil
		})
	},
}

var cmdArchive = &cli.Command{
	Name:  "archive",
	Usage: "copy retired listings and old sales to object storage",
	Action: func(cctx *cli.Context) error {
		return oneShot(cctx, func(ctx context.Context, a *app.App) (any, error) {
			return a.Archive(ctx)
		})
	},
}

var cmdMigrate = &cli.Command{
	Name:  "migrate",
	Usage: "apply database migrations",
	Action: func(cctx *cli.Context) error {
		cfg, logger, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		ctx, stop := signalContext(cctx)
		defer stop()
		if err := app.Migrate(ctx, cfg); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}

var cmdEncryptSecret = &cli.Command{
	Name:  "encrypt-secret",
	Usage: "encrypt a secret (e.g. mrkt initData) for markets.<slug>.init_data_file",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "in",
			Usage: "plaintext file; stdin when empty",
		},
		&cli.StringFlag{
			Name:     "out",
			Usage:    "encrypted output file",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "encryption password",
			EnvVars: []string{"GIFTAGG_SECRET_PASSWORD"},
		},
	},
	Action: func(cctx *cli.Context) error {
		password := cctx.String("password")
		if password == "" {
			return errors.New("encrypt-secret: password required (--password or GIFTAGG_SECRET_PASSWORD)")
		}

		var src io.Reader = os.Stdin
		if path := cctx.String("in"); path != "" {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("encrypt-secret: %w", err)
			}
			defer f.Close()
			src = f
		}
		plaintext, err := io.ReadAll(src)
		if err != nil {
			return fmt.Errorf("encrypt-secret: read: %w", err)
		}

		data, err := crypto.EncryptSecret(strings.TrimSpace(string(plaintext)), password)
		if err != nil {
			return err
		}
		if err := os.WriteFile(cctx.String("out"), data, 0o600); err != nil {
			return fmt.Errorf("encrypt-secret: write: %w", err)
		}
		fmt.Fprintf(cctx.App.Writer, "wrote %s\n", cctx.String("out"))
		return nil
	},
}

var cmdTelegramLogin = &cli.Command{
	Name:  "telegram-login",
	Usage: "authorize the MTProto session file used by the telegram market",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "phone",
			Usage:    "account phone number in international format",
			Required: true,
			EnvVars:  []string{"GIFTAGG_TELEGRAM_PHONE"},
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, _, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		mc := cfg.Markets[telegram.Slug]
		if mc.AppID == 0 || mc.AppHash == "" {
			return errors.New("telegram-login: markets.telegram.app_id and app_hash are required")
		}
		ctx, stop := signalContext(cctx)
		defer stop()

		in := bufio.NewReader(os.Stdin)
		code := func(context.Context) (string, error) {
			fmt.Fprint(cctx.App.Writer, "login code: ")
			line, err := in.ReadString('\n')
			return strings.TrimSpace(line), err
		}
		sc := telegram.SessionConfig{AppID: mc.AppID, AppHash: mc.AppHash, SessionFile: mc.SessionFile}
		if err := telegram.Login(ctx, sc, cctx.String("phone"), code); err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "session saved to %s\n", mc.SessionFile)
		return nil
	},
}

// oneShot wires the app, runs fn and prints its result as JSON.
func oneShot(cctx *cli.Context, fn func(ctx context.Context, a *app.App) (any, error)) error {
	cfg, logger, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signalContext(cctx)
	defer stop()

	out, err := fn(ctx, application)
	if out != nil {
		enc := json.NewEncoder(cctx.App.Writer)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(out); encErr != nil && err == nil {
			err = encErr
		}
	}
	return err
}

// loadConfig reads and validates the configuration and installs the
// configured log level as the default logger.
func loadConfig(cctx *cli.Context) (*config.Config, *slog.Logger, error) {
	path := cctx.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func signalContext(cctx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
}
