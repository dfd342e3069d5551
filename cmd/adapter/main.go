// Command adapter is the DICOM Adapter process: it runs the DIMSE SCP,
// the storage reclaimer, and the export poll loop under one
// lifecycle.Supervisor, and the §6 HTTP surface alongside it, per the
// Configuration table loaded from the path named by --config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/nvidia-clara/dicom-adapter/aehandler"
	"github.com/nvidia-clara/dicom-adapter/config"
	"github.com/nvidia-clara/dicom-adapter/dicomweb"
	"github.com/nvidia-clara/dicom-adapter/dimse"
	"github.com/nvidia-clara/dicom-adapter/events"
	"github.com/nvidia-clara/dicom-adapter/export"
	"github.com/nvidia-clara/dicom-adapter/health"
	"github.com/nvidia-clara/dicom-adapter/httpapi"
	"github.com/nvidia-clara/dicom-adapter/inference"
	"github.com/nvidia-clara/dicom-adapter/jobprocessor"
	"github.com/nvidia-clara/dicom-adapter/jobsubmission"
	"github.com/nvidia-clara/dicom-adapter/lifecycle"
	"github.com/nvidia-clara/dicom-adapter/platform"
	"github.com/nvidia-clara/dicom-adapter/repository"
	"github.com/nvidia-clara/dicom-adapter/server"
	"github.com/nvidia-clara/dicom-adapter/services"
	"github.com/nvidia-clara/dicom-adapter/storage"
)

// repoBackend is the intersection of interfaces a single Postgres or
// Memory instance satisfies; cmd/adapter depends on this rather than
// either concrete type so swapping backends needs no further change
// here.
type repoBackend interface {
	repository.AERepository
	repository.InferenceRequestRepository
	repository.JobRepository
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			logger.Info("adapter stopped", "reason", err.Error())
		default:
			logger.Error("adapter terminated unexpectedly", "error", err)
			os.Exit(1)
		}
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}

	instanceBus := events.NewInstanceNotificationBus(logger)

	cleanupQueue := storage.NewCleanupQueue()
	reclaimer := storage.NewReclaimer(cleanupQueue, logger)

	httpClient := &http.Client{}
	platformJobsBaseURL := fmt.Sprintf("http://%s:%s", cfg.Platform.ServiceHost, cfg.Platform.ServicePortAPI)
	platformJobs := platform.NewHTTPJobs(platformJobsBaseURL, httpClient, logger)
	platformPayloads := platform.NewHTTPPayloads(platformJobsBaseURL, httpClient, logger)
	resultsBaseURL := fmt.Sprintf("http://%s:%s", cfg.Platform.ResultsServiceHost, cfg.Platform.ResultsServicePort)
	platformResults := platform.NewHTTPResults(resultsBaseURL, httpClient, logger)

	submission := jobsubmission.New(repo, platformJobs, platformPayloads, cleanupQueue, logger)

	localAEs, err := repo.ListLocalAEs(ctx)
	if err != nil {
		return fmt.Errorf("list configured local AEs: %w", err)
	}

	storeHandlers := make(map[string]*aehandler.Handler, len(localAEs))
	for _, ae := range localAEs {
		handler := aehandler.New(ae, cfg.Storage.Temporary, instanceBus, logger)
		if err := handler.Reset(); err != nil {
			return fmt.Errorf("reset storage for AE %s: %w", ae.AETitle, err)
		}
		storeHandlers[ae.AETitle] = handler

		settings, err := jobprocessor.ParseSettings(ae)
		if err != nil {
			logger.Warn("skipping job processor for AE with invalid settings", "ae_title", ae.AETitle, "error", err)
			continue
		}
		processor := jobprocessor.New(ctx, ae, settings, repo, submission, logger)
		processor.AttachTo(instanceBus)
	}

	admission := aehandler.NewAdmissionPolicy(repo, cfg.SCP.RejectUnknownSources, logger)

	registry := services.NewRegistry()
	registry.RegisterHandler(dimse.CEchoRQ, services.NewEchoService())
	registry.RegisterHandler(dimse.CStoreRQ, services.NewStoreService(storeHandlers, logger))

	reporter := health.New()
	dicomServer := server.New(cfg.SCU.AETitle, registry,
		server.WithLogger(logger),
		server.WithAdmissionPolicy(admission),
		server.WithMaxAssociations(int64(cfg.SCP.MaximumNumberOfAssociations)),
		server.WithAssociationHooks(reporter.IncrementAssociations, reporter.DecrementAssociations),
	)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.SCP.Port))
	if err != nil {
		return fmt.Errorf("bind SCP port %d: %w", cfg.SCP.Port, err)
	}

	dicomwebClient := dicomweb.New(cfg.SCU.Export.DICOMwebRoot, dicomweb.Auth{}, httpClient, logger)
	inferenceService := inference.New(repo, dicomwebClient, submission, cfg.Storage.Temporary, logger)

	exporter, err := buildExporter(cfg, logger)
	if err != nil {
		return fmt.Errorf("build exporter: %w", err)
	}
	exportService := export.New(export.Config{
		Agent:                  cfg.SCU.Export.Agent,
		Limit:                  10,
		FailureThreshold:       cfg.SCU.Export.FailureThreshold,
		MaximumRetries:         cfg.SCU.Export.MaximumRetries,
		RequiresDestination:    cfg.SCU.Export.Target == "scu",
		MaxDegreeOfParallelism: cfg.SCU.MaximumNumberOfAssociations,
	}, platformResults, platformPayloads, repo, exporter, logger)

	httpServer := httpapi.New(ctx, repo, repo, inferenceService, reporter, logger)
	httpListenAddr := fmt.Sprintf(":%d", cfg.HTTP.Port)

	sup := lifecycle.New(lifecycle.Config{
		Server:             dicomServer,
		Conn:               listener,
		Reclaimer:          reclaimer,
		Export:             exportService,
		ExportPollInterval: cfg.ExportPollInterval(),
		Drainers:           []lifecycle.Drainer{submission, inferenceService},
		Reporter:           reporter,
	}, logger)

	httpSrv := &http.Server{Addr: httpListenAddr, Handler: httpServer.Router()}
	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- sup.Run(ctx) }()
	go func() {
		logger.Info("HTTP surface listening", "address", httpListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return firstErr
}

func openRepository(cfg *config.Config) (repoBackend, error) {
	if cfg.Database.DSN == "" {
		return repository.NewMemory(), nil
	}
	db, err := sqlx.Connect("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return repository.NewPostgres(db), nil
}

func buildExporter(cfg *config.Config, logger *slog.Logger) (export.Exporter, error) {
	switch cfg.SCU.Export.Target {
	case "dicomweb":
		client := dicomweb.New(cfg.SCU.Export.DICOMwebRoot, dicomweb.Auth{}, &http.Client{}, logger)
		return export.NewDICOMwebExporter(client, logger), nil
	case "scu":
		return export.NewSCUExporter(cfg.SCU.AETitle, logger), nil
	default:
		return nil, fmt.Errorf("unrecognized export target %q", cfg.SCU.Export.Target)
	}
}
