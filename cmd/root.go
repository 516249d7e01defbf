// Package cmd defines and implements the CLI commands for the ripper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/api"
	"github.com/JakeFAU/album-ripper/internal/app"
	"github.com/JakeFAU/album-ripper/internal/config"
	"github.com/JakeFAU/album-ripper/internal/logging"
	"github.com/JakeFAU/album-ripper/internal/rip"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of *app.App the commands use. Tests swap in their own
// factory through newApp.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	RunPool(ctx context.Context)
	NewRip(root string, overrides app.RipOptions, albums rip.AlbumSink) (*rip.Rip, error)
	NewServer() *api.Server
	Close(ctx context.Context) error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// session tracks what the persistent pre-run built so Execute can release it
// even when a subcommand fails.
type session struct {
	app    App
	logger *zap.Logger
}

func (s *session) close() error {
	var errs []error
	if s.app != nil {
		errs = append(errs, s.app.Close(context.Background()))
		s.app = nil
	}
	if s.logger != nil {
		errs = append(errs, logging.Sync(s.logger))
		s.logger = nil
	}
	return errors.Join(errs...)
}

// newRootCmd creates the root command. Flags bound to v override the config
// file and RIPPER_* environment variables.
func newRootCmd(s *session) *cobra.Command {
	var cfgFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "ripper",
		Short: "Download every item of an online album into a local directory.",
		Long: `ripper walks the pages of an album, hands each item to a bounded
download pool, and reports progress until nothing is pending. Progress can
be recorded in Postgres, mirrored to local disk or GCS, announced on Pub/Sub,
and served over a small HTTP status API.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			s.logger = logger
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			s.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	flags.String("output", "", "parent directory for album working directories")
	flags.Int("workers", 0, "download pool size")
	flags.Bool("dev", false, "human-friendly development logging")
	for key, name := range map[string]string{
		"output.root_dir":     "output",
		"pool.workers":        "workers",
		"logging.development": "dev",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	cmd.AddCommand(newRipCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. It returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &session{}
	err := newRootCmd(s).ExecuteContext(ctx)
	if closeErr := s.close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", closeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ripper: %v\n", err)
		return 1
	}
	return 0
}
