// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anton-kulagin/chromy/internal/config"
	"github.com/anton-kulagin/chromy/internal/observability"
	"github.com/anton-kulagin/chromy/pkg/browser"
	"github.com/anton-kulagin/chromy/pkg/chromy"
)

var (
	cfgFile   string
	remoteURL string
	headful   bool

	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "chromy",
	Short:   "chromy drives a Chrome-family browser over the DevTools protocol.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "chromy"})
			return err
		}
		if remoteURL != "" {
			cfg.Browser.RemoteURL = remoteURL
		}
		if headful {
			cfg.Browser.Headless = false
		}

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Debug("Starting chromy.", zap.String("version", Version))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	defer observability.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./chromy.yaml)")
	rootCmd.PersistentFlags().StringVar(&remoteURL, "remote", "", "attach to a running browser's debugging URL instead of launching one")
	rootCmd.PersistentFlags().BoolVar(&headful, "headful", false, "launch the browser with a visible window")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// withClient connects a session, wraps it in a client registered for
// cleanup, and hands it to fn. The registry closes everything on return,
// whatever fn did.
func withClient(ctx context.Context, fn func(ctx context.Context, c *chromy.Client) error) error {
	logger := observability.GetLogger()
	registry := browser.NewRegistry(logger)
	defer func() {
		if err := registry.CloseAll(context.Background()); err != nil {
			logger.Warn("Cleanup finished with errors.", zap.Error(err))
		}
	}()

	sess, err := browser.Connect(ctx, browser.Options{
		RemoteURL:   cfg.Browser.RemoteURL,
		ExecPath:    cfg.Browser.ExecPath,
		UserDataDir: cfg.Browser.UserDataDir,
		Headless:    cfg.Browser.Headless,
		NoSandbox:   cfg.Browser.NoSandbox,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	client := chromy.New(sess, chromy.Options{
		GotoTimeout:     cfg.Timeouts.Goto,
		EvaluateTimeout: cfg.Timeouts.Evaluate,
		WaitTimeout:     cfg.Timeouts.Wait,
		PollInterval:    cfg.Timeouts.Poll,
		Logger:          logger,
	})
	registry.Register(client.ID(), client)

	return fn(ctx, client)
}
