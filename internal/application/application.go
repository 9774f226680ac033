package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/psds-microservice/operator-console/internal/archive"
	"github.com/psds-microservice/operator-console/internal/backend"
	"github.com/psds-microservice/operator-console/internal/config"
	"github.com/psds-microservice/operator-console/internal/database"
	"github.com/psds-microservice/operator-console/internal/handler"
	"github.com/psds-microservice/operator-console/internal/kafka"
	"github.com/psds-microservice/operator-console/internal/logger"
	"github.com/psds-microservice/operator-console/internal/messenger"
	"github.com/psds-microservice/operator-console/internal/router"
	"github.com/psds-microservice/operator-console/internal/socketio"
	"github.com/sirupsen/logrus"
)

var (
	_ messenger.EventPublisher = (*kafka.Producer)(nil)
	_ messenger.Archiver       = (*archive.Mirror)(nil)
)

// Core — общая часть режимов api и tui: консоль с транспортом, REST-клиентом,
// продюсером событий и (опционально) архивом.
type Core struct {
	Config   *config.Config
	Log      *logrus.Logger
	Console  *messenger.Console
	producer *kafka.Producer
	mirror   *archive.Mirror
}

type CoreOption func(*logger.Options)

// WithFileLogOnly пишет логи только в файл (режим tui).
func WithFileLogOnly() CoreOption {
	return func(o *logger.Options) { o.FileOnly = true }
}

// NewCore собирает зависимости консоли по конфигурации.
func NewCore(cfg *config.Config, opts ...CoreOption) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logOpts := logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile}
	for _, opt := range opts {
		opt(&logOpts)
	}
	log, err := logger.New(logOpts)
	if err != nil {
		return nil, err
	}

	core := &Core{Config: cfg, Log: log}
	issues := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)

	var consoleOpts []messenger.ConsoleOption
	core.producer = kafka.NewProducer(kafka.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaTopicIssue, logger.Component(log, "kafka"))
	if core.producer.Enabled() {
		consoleOpts = append(consoleOpts, messenger.WithEvents(core.producer))
		log.WithField("topic", cfg.KafkaTopicIssue).Info("issue events enabled")
	}

	if cfg.ArchiveEnabled {
		if err := database.MigrateUp(cfg.DatabaseURL(), logger.Component(log, "migrate")); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := database.Open(cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		core.mirror = archive.NewMirror(db, logger.Component(log, "archive"))
		consoleOpts = append(consoleOpts, messenger.WithArchive(core.mirror))
	}

	consoleOpts = append(consoleOpts, messenger.WithSessionOptions(messenger.Options{
		AutoCloseAfter:    cfg.AutoCloseAfter,
		AutoCloseInterval: cfg.AutoCloseInterval,
		AckTimeout:        cfg.AckTimeout,
		RequestTimeout:    cfg.BackendTimeout,
		Log:               logger.Component(log, "session"),
	}))

	socketLog := logger.Component(log, "socketio")
	dial := func() (messenger.Transport, error) {
		return socketio.New(cfg.BackendURL, socketio.WithLogger(socketLog))
	}
	core.Console = messenger.NewConsole(dial, issues, consoleOpts...)
	return core, nil
}

// Close закрывает сессии, затем дописывает архив и продюсер.
func (c *Core) Close() error {
	err := c.Console.Close()
	if c.mirror != nil {
		err = errors.Join(err, c.mirror.Close())
	}
	return errors.Join(err, c.producer.Close())
}

// API приложение: HTTP-сервер консоли (режим api).
type API struct {
	core    *Core
	httpSrv *http.Server
}

// NewAPI создаёт приложение для режима api.
func NewAPI(cfg *config.Config) (*API, error) {
	core, err := NewCore(cfg)
	if err != nil {
		return nil, err
	}
	if err := core.Console.Start(); err != nil {
		_ = core.Close()
		return nil, fmt.Errorf("dialogs session: %w", err)
	}

	ready := func() bool {
		v, ok := core.Console.DialogsView()
		return ok && v.Connected
	}
	h := router.New(handler.NewMessengerHandler(core.Console), ready, logger.Component(core.Log, "http"))

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &API{core: core, httpSrv: httpSrv}, nil
}

// Run запускает HTTP-сервер, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	log := logger.Component(a.core.Log, "api")
	host := a.core.Config.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.core.Config.HTTPPort
	log.Infof("HTTP server listening on %s", a.httpSrv.Addr)
	log.Infof("  Swagger UI:    %s/swagger", base)
	log.Infof("  Swagger spec:  %s/swagger/openapi.json", base)
	log.Infof("  Health:        %s/health", base)
	log.Infof("  Ready:         %s/ready", base)
	log.Infof("  API v1:        %s/api/v1/", base)
	log.Infof("  Chat backend:  %s", a.core.Config.BackendURL)

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	if err := a.core.Close(); err != nil {
		log.WithError(err).Warn("close console")
	}
	return runErr
}
