// Package client wires the daemon together: state store, metadata client,
// dispatcher, control plane, audio watcher, and update checker.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/studiosync/studiosync/internal/blobstore"
	"github.com/studiosync/studiosync/internal/client/config"
	"github.com/studiosync/studiosync/internal/client/dispatch"
	"github.com/studiosync/studiosync/internal/client/engine"
	"github.com/studiosync/studiosync/internal/client/manifest"
	"github.com/studiosync/studiosync/internal/client/middleware"
	"github.com/studiosync/studiosync/internal/client/prompt"
	"github.com/studiosync/studiosync/internal/client/state"
	"github.com/studiosync/studiosync/internal/client/updater"
	"github.com/studiosync/studiosync/internal/client/watcher"
	"github.com/studiosync/studiosync/internal/studioapi"
	"github.com/studiosync/studiosync/internal/utils"
	"github.com/studiosync/studiosync/internal/version"
)

type App struct {
	config     *config.Config
	states     *state.Store
	api        *studioapi.Client
	dispatcher *dispatch.Dispatcher
	cps        *ControlPlaneServer
	checker    *updater.Checker
	prompt     prompt.UserPrompt
	logFile    string

	blobMu       sync.Mutex
	projectBlobs blobstore.Store
	audioBlobs   blobstore.Store

	stopFn context.CancelFunc
}

func New(cfg *config.Config, up prompt.UserPrompt, logFile string) (*App, error) {
	states, err := state.NewStore(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	if err := states.Open(); err != nil {
		return nil, err
	}

	api, err := studioapi.New(cfg.ServerURL, states, up)
	if err != nil {
		states.Close()
		return nil, err
	}

	publicKey, err := middleware.LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		states.Close()
		return nil, err
	}

	app := &App{
		config:  cfg,
		states:  states,
		api:     api,
		prompt:  up,
		logFile: logFile,
	}

	app.dispatcher = dispatch.New(&dispatch.Deps{
		API:       api,
		NewEngine: app.newEngine,
		Updater:   updater.NewExecUpdater(),
		OpenFile:  utils.OpenPath,
		OpenSettings: func() {
			up.Notify(context.Background(), "Settings live in the web app: "+cfg.WebOrigin)
		},
		LogFile:  logFile,
		Shutdown: app.Shutdown,
		Report: func(err error) {
			slog.Error("unhandled task error", "error", err)
		},
		Debug: cfg.Debug,
	})

	cps, err := NewControlPlaneServer(&ControlPlaneConfig{
		Addr:      cfg.HTTPAddr,
		WebOrigin: cfg.WebOrigin,
		PublicKey: publicKey,
	}, app.dispatcher, api.HasAuth)
	if err != nil {
		states.Close()
		return nil, err
	}
	app.cps = cps

	app.checker = updater.NewChecker(api, func() {
		app.dispatcher.Enqueue(dispatch.NewTask(dispatch.KindUpdate, nil))
	})

	return app, nil
}

// Dispatcher exposes the command queue for the one-shot CLI flows.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// projectStore builds the project-bucket client lazily, vending credentials
// from the metadata service on first use. TEST=1 substitutes the no-op
// backend.
func (a *App) projectStore(ctx context.Context) (blobstore.Store, error) {
	a.blobMu.Lock()
	defer a.blobMu.Unlock()
	if a.projectBlobs != nil {
		return a.projectBlobs, nil
	}

	store, err := a.buildStore(ctx, a.config.ProjectBucket)
	if err != nil {
		return nil, err
	}
	a.projectBlobs = store
	return store, nil
}

func (a *App) audioStore(ctx context.Context) (blobstore.Store, error) {
	a.blobMu.Lock()
	defer a.blobMu.Unlock()
	if a.audioBlobs != nil {
		return a.audioBlobs, nil
	}

	store, err := a.buildStore(ctx, a.config.AudioBucket)
	if err != nil {
		return nil, err
	}
	a.audioBlobs = store
	return store, nil
}

func (a *App) buildStore(ctx context.Context, bucket string) (blobstore.Store, error) {
	if os.Getenv("TEST") == "1" {
		slog.Warn("TEST=1, transfers are no-ops")
		return blobstore.NewNoopStore(), nil
	}

	creds, err := a.api.GetStorageCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("vend storage credentials: %w", err)
	}

	return blobstore.NewS3Store(&blobstore.S3Config{
		AccessKey: creds.Access,
		SecretKey: creds.Secret,
		Region:    a.config.S3Region,
		Endpoint:  a.config.S3Endpoint,
		Bucket:    bucket,
	})
}

// newEngine builds a reconciliation engine from the current durable
// settings. The dispatcher calls this per command.
func (a *App) newEngine() (*engine.Engine, error) {
	source, err := a.states.Setting(state.KeySourcePath)
	if err != nil {
		return nil, err
	}
	if source == "" {
		return nil, errors.New("source directory not configured")
	}
	// Settings arrive from the web UI as typed by the user; expand ~ and
	// relative segments before handing the path to the engine.
	source, err = utils.ResolvePath(source)
	if err != nil {
		return nil, fmt.Errorf("resolve source directory: %w", err)
	}

	blobs, err := a.projectStore(context.Background())
	if err != nil {
		return nil, err
	}

	workers := a.states.Workers()
	if os.Getenv("THREADS_OFF") == "1" {
		slog.Warn("THREADS_OFF=1, transfers run serially")
		workers = 1
	}

	telemetry, _ := a.states.Setting(state.KeyTelemetryPath)

	return engine.New(a.api, blobs, a.states, manifest.NewWalkScanner(), a.prompt, engine.Options{
		SourceDir:     source,
		NestedFolders: a.states.NestedFolders(),
		Workers:       workers,
		TelemetryPath: telemetry,
	}), nil
}

func (a *App) Start(ctx context.Context) error {
	slog.Info("daemon start", "version", version.Short())

	ctx, cancel := context.WithCancel(ctx)
	a.stopFn = cancel
	defer cancel()

	a.noteVersionChange(ctx)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return a.dispatcher.Run(egCtx)
	})

	eg.Go(func() error {
		if err := a.cps.Start(egCtx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		return a.checker.Start(egCtx)
	})

	if audioDir, _ := a.states.Setting(state.KeyAudioPath); audioDir != "" {
		resolved, err := utils.ResolvePath(audioDir)
		if err != nil {
			slog.Error("audio watcher disabled", "path", audioDir, "error", err)
		} else if blobs, err := a.audioStore(egCtx); err != nil {
			slog.Error("audio watcher disabled", "error", err)
		} else {
			w := watcher.New(resolved, blobs, a.states, a.api)
			eg.Go(func() error {
				return w.Start(egCtx)
			})
		}
	}

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("stopping daemon")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.cps.Stop(shutdownCtx)
	})

	err := eg.Wait()
	if cerr := a.states.Close(); cerr != nil {
		slog.Error("state store close failed", "error", cerr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}

	slog.Info("daemon stopped")
	return nil
}

// Shutdown stops the daemon from the shutdown command handler.
func (a *App) Shutdown() {
	if a.stopFn != nil {
		a.stopFn()
	}
}

// noteVersionChange records the running version and tells the user when it
// changed since the last run.
func (a *App) noteVersionChange(ctx context.Context) {
	last, err := a.states.Setting(state.KeyLastVersion)
	if err != nil {
		return
	}
	if last == version.Version {
		return
	}
	if err := a.states.SetSetting(state.KeyLastVersion, version.Version); err != nil {
		slog.Warn("could not record version", "error", err)
		return
	}
	if last != "" {
		a.prompt.Notify(ctx, fmt.Sprintf("StudioSync updated: %s -> %s", last, version.Version))
	}
}

// ProbeRunning asks a possibly running instance for a pong. Used at startup
// to enforce a single daemon per machine.
func ProbeRunning(addr string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/ping", addr))
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var pong struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pong); err != nil {
		return false
	}
	return pong.Result == "pong"
}
