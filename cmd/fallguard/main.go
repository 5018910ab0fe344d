package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/api"
	"github.com/mikeyg42/fallguard/internal/camera"
	"github.com/mikeyg42/fallguard/internal/classifier"
	"github.com/mikeyg42/fallguard/internal/config"
	"github.com/mikeyg42/fallguard/internal/detect"
	"github.com/mikeyg42/fallguard/internal/event"
	"github.com/mikeyg42/fallguard/internal/notify"
	"github.com/mikeyg42/fallguard/internal/snapshot"
	"github.com/mikeyg42/fallguard/internal/store"
)

// Application owns every long-lived component and tears them down in
// reverse order of construction.
type Application struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      store.EventStore
	snapshots  snapshot.Store
	dispatcher *notify.Dispatcher
	cam        *camera.Camera
	loop       *detect.Loop
	server     *api.Server
}

func main() {
	userID := flag.String("user", "default", "user whose settings drive alerting")
	cameraIndex := flag.Int("camera", -1, "capture device index (overrides config)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("loading configuration failed", zap.Error(err))
	}
	if *cameraIndex >= 0 {
		cfg.Detection.CameraIndex = *cameraIndex
	}

	app, err := newApplication(cfg, *userID, logger)
	if err != nil {
		logger.Fatal("initializing application failed", zap.Error(err))
	}

	app.run()
}

func newApplication(cfg *config.Config, userID string, logger *zap.Logger) (*Application, error) {
	st := store.Open(cfg.Store, logger)
	snaps := snapshot.Open(cfg.Snapshot, logger)

	senders := []notify.Sender{
		notify.NewEmailChannel(cfg.SMTP, logger),
		notify.NewSMSChannel(cfg.Twilio, logger),
		notify.NewTelegramChannel(cfg.Telegram, logger),
	}
	defaultEmail := cfg.Notify.DefaultEmail
	if defaultEmail == "" {
		defaultEmail = cfg.SMTP.User
	}
	dispatcher := notify.NewDispatcher(senders, st, defaultEmail, cfg.Notify.QueueSize, logger)

	cam := camera.New(cfg.Detection.CameraIndex, logger)

	model := classifier.Load(cfg.Detection.ModelPath, logger)
	rateLimited := detect.NewRateLimited(model, cfg.Detection.MinInferenceInterval)

	app := &Application{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		snapshots:  snaps,
		dispatcher: dispatcher,
		cam:        cam,
	}

	// Accepted events reach the dispatcher off the loop goroutine; the
	// user's settings are re-read per event so edits apply immediately.
	onFall := func(ev *event.FallEvent, frame []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		settings := event.DefaultSettings()
		if user, err := st.GetUser(ctx, userID); err != nil {
			logger.Error("loading settings for alert failed", zap.Error(err))
		} else if user != nil {
			settings = user.Settings
		}
		dispatcher.SendNotifications(ctx, settings, ev, frame)
	}

	app.loop = detect.NewLoop(cfg.Detection, cam, rateLimited, snaps, st,
		userID, cam.Describe(), onFall, logger)
	app.server = api.NewServer(cfg.API, st, dispatcher, app.loop, logger)
	return app, nil
}

func (app *Application) run() {
	app.dispatcher.Start()

	if !app.cam.Start() {
		app.logger.Warn("camera unavailable at startup, detection will wait for it")
	}
	if err := app.loop.Start(); err != nil {
		app.logger.Fatal("starting detection loop failed", zap.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := app.server.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		app.logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		app.logger.Error("control api failed", zap.Error(err))
	}

	app.shutdown()
}

// shutdown stops components in reverse dependency order: detection
// first so nothing new enters the pipeline, queue last so in-flight
// alerts drain.
func (app *Application) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("api shutdown failed", zap.Error(err))
	}

	app.loop.Stop()
	app.cam.Stop()
	app.dispatcher.Stop()

	if err := app.store.Close(); err != nil {
		app.logger.Error("closing event store failed", zap.Error(err))
	}
	app.logger.Info("shutdown complete")
}
