package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/studiosync/studiosync/internal/client"
	"github.com/studiosync/studiosync/internal/client/config"
	"github.com/studiosync/studiosync/internal/client/prompt"
	"github.com/studiosync/studiosync/internal/studioapi"
	"github.com/studiosync/studiosync/internal/utils"
	"github.com/studiosync/studiosync/internal/version"
)

const (
	// exitFatal maps the legacy -1 exit status for unrecoverable
	// configuration errors.
	exitFatal = 255
	exitAuth  = 1
)

var (
	defaultServerURL = "https://api.studiosync.app"
	defaultWebOrigin = "https://app.studiosync.app"
	configFileName   = "config"
)

var rootCmd = &cobra.Command{
	Use:     "studiosync",
	Short:   "StudioSync daemon",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{
			Path:          viper.ConfigFileUsed(),
			ServerURL:     viper.GetString("server_url"),
			WebOrigin:     viper.GetString("web_origin"),
			PublicKeyPath: viper.GetString("public_key_path"),
			HTTPAddr:      viper.GetString("http_addr"),
			StatePath:     viper.GetString("state_path"),
			ProjectBucket: viper.GetString("project_bucket"),
			AudioBucket:   viper.GetString("audio_bucket"),
			S3Region:      viper.GetString("s3_region"),
			S3Endpoint:    viper.GetString("s3_endpoint"),
			Debug:         viper.GetBool("debug"),
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitFatal)
		}

		cmd.SilenceUsage = true
		showHeader()

		// Another instance answering the ping gets to keep running; hand
		// the user over to the web UI instead.
		tui := viper.GetBool("tui")
		oneShot := viper.GetBool("sync")
		if !tui && !oneShot && client.ProbeRunning(cfg.HTTPAddr) {
			slog.Info("daemon already running, opening web app")
			if err := utils.OpenPath(cfg.WebOrigin); err != nil {
				slog.Warn("could not open web app", "error", err)
			}
			return nil
		}

		var up prompt.UserPrompt
		if tui || isatty.IsTerminal(os.Stdin.Fd()) {
			up = prompt.NewConsole(os.Stdin, os.Stdout)
		} else {
			up = &prompt.Stub{}
		}

		app, err := client.New(cfg, up, config.DefaultLogFilePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitFatal)
		}

		ctx := cmd.Context()
		switch {
		case tui:
			err = app.RunTUI(ctx)
		case oneShot:
			err = app.RunOnce(ctx)
		default:
			defer slog.Info("Bye!")
			err = app.Start(ctx)
		}

		if errors.Is(err, studioapi.ErrAuthFailed) {
			fmt.Fprintln(os.Stderr, "authentication failed")
			os.Exit(exitAuth)
		}
		return err
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().Bool("tui", false, "Run the interactive console flow instead of the service loop")
	rootCmd.Flags().Bool("sync", false, "Run one full sync and exit")
	rootCmd.Flags().Bool("debug", false, "Verbose logging, re-raise handler panics")
	rootCmd.Flags().StringP("server", "s", defaultServerURL, "Metadata service URL")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "StudioSync config file")
}

func main() {
	logFile := config.DefaultLogFilePath

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(exitFatal)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(exitFatal)
	}
	defer file.Close()

	// Setup handlers for both outputs
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// Do not include time as it is added by the log interceptor.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	logger := slog.New(utils.NewFanoutHandler(stdoutHandler, fileHandler))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(config.AppDataDir())
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("tui", cmd.Flags().Lookup("tui"))
	viper.BindPFlag("sync", cmd.Flags().Lookup("sync"))
	viper.BindPFlag("debug", cmd.Flags().Lookup("debug"))

	viper.SetDefault("server_url", defaultServerURL)
	viper.SetDefault("web_origin", defaultWebOrigin)
	viper.SetDefault("http_addr", config.DefaultHTTPAddr)

	viper.SetEnvPrefix("STUDIOSYNC")
	viper.AutomaticEnv()

	return nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).
		Printf("StudioSync %s\n", version.Short())
}
