package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/basel-ax/imagegate/internal/config"
	"github.com/basel-ax/imagegate/internal/domain"
	"github.com/basel-ax/imagegate/internal/httpapi"
	"github.com/basel-ax/imagegate/internal/infrastructure/huggingface"
	"github.com/basel-ax/imagegate/internal/infrastructure/openaiimages"
	"github.com/basel-ax/imagegate/internal/logging"
	"github.com/basel-ax/imagegate/internal/registry"
	"github.com/basel-ax/imagegate/internal/repository"
	"github.com/basel-ax/imagegate/internal/service"
)

// Exit code of a generation interrupted by SIGINT
const exitInterrupted = 130

var (
	errColor  = color.New(color.FgRed, color.Bold)
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.FgHiBlack)
	keyColor  = color.New(color.FgCyan, color.Bold)
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	serve := flag.Bool("serve", false, "Run the HTTP API server")
	prompt := flag.String("prompt", "", "Generate one image for this prompt and exit")
	model := flag.String("model", "", "Model key to use with -prompt (see -models)")
	width := flag.Int("width", 0, "Image width in pixels (default from configuration)")
	height := flag.Int("height", 0, "Image height in pixels (default from configuration)")
	out := flag.String("out", "image.png", "Output file for -prompt")
	listModels := flag.Bool("models", false, "List available models and exit")
	flag.Parse()

	// Check if at least one mode is selected
	if !*serve && *prompt == "" && !*listModels {
		errColor.Fprintln(os.Stderr, "Please specify a mode: -serve, -prompt \"...\" or -models")
		flag.Usage()
		return 2
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		errColor.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	catalog, err := config.LoadCatalog(cfg.ModelsFile, cfg.Backend)
	if err != nil {
		errColor.Fprintf(os.Stderr, "Failed to load model catalog: %v\n", err)
		return 1
	}

	if *listModels {
		printModels(catalog.Models(), catalog.Default(cfg.Defaults.Model).Key)
		return 0
	}

	isDevelopment := *verbose || !cfg.IsProduction()
	var logger *logging.Logger
	if *serve {
		logger = logging.NewLogger(isDevelopment, cfg.LogFile)
	} else {
		// One-shot mode keeps stdout for the command's own output
		logger = logging.NewFileLogger(*verbose, cfg.LogFile)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize generation history when a database is configured
	var history repository.GenerationRepository
	if cfg.DB.Enabled() {
		db, repo, err := openHistory(ctx, cfg)
		if err != nil {
			logger.Error("failed to initialize generation history", zap.Error(err))
			errColor.Fprintf(os.Stderr, "Failed to initialize generation history: %v\n", err)
			return 1
		}
		defer db.Close()
		history = repo
		logger.Info("generation history enabled", zap.String("db_host", cfg.DB.Host))
	}

	// The cron report reads the same registry the service tracks requests in
	reg := registry.New()
	opts := []service.Option{
		service.WithLogger(logger.Named("service")),
		service.WithRegistry(reg),
	}
	if history != nil {
		opts = append(opts, service.WithHistory(history))
	}
	svc := service.NewImageGenerationService(newBackend(cfg), catalog, cfg.Defaults, opts...)
	logger.Info("image generation service initialized",
		zap.String("backend", cfg.Backend),
		zap.Int("models", len(catalog.Keys())),
	)

	if *serve {
		if err := runServer(ctx, cfg, svc, reg, history, logger); err != nil {
			logger.Error("server failed", zap.Error(err))
			return 1
		}
		return 0
	}

	return runOnce(svc, oneShot{
		prompt: *prompt,
		model:  *model,
		width:  *width,
		height: *height,
		out:    *out,
	})
}

func newBackend(cfg *config.Config) domain.ImageBackend {
	if cfg.Backend == config.BackendOpenAI {
		return openaiimages.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.BackendTimeout)
	}
	return huggingface.NewClient(cfg.HuggingFace.APIKey,
		huggingface.WithBaseURL(cfg.HuggingFace.BaseURL),
		huggingface.WithTimeout(cfg.BackendTimeout),
	)
}

func openHistory(ctx context.Context, cfg *config.Config) (*sql.DB, *repository.PostgresGenerationRepository, error) {
	db, err := repository.OpenPostgres(ctx, cfg.GetDSN(), repository.PoolSettings{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewPostgresGenerationRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, repo, nil
}

func runServer(ctx context.Context, cfg *config.Config, svc *service.ImageGenerationService, reg *registry.Registry, history repository.GenerationRepository, logger *logging.Logger) error {
	scheduler, err := startCronJobs(ctx, scheduleConfig{
		PruneSchedule:  cfg.History.PruneSchedule,
		Retention:      cfg.History.Retention,
		BackendTimeout: cfg.BackendTimeout,
	}, history, reg, logger.Named("cron"))
	if err != nil {
		return err
	}
	defer func() {
		<-scheduler.Stop().Done()
		logger.Info("cron scheduler stopped")
	}()

	api := httpapi.NewAPI(svc, history, logger.Named("http"), cfg.IsProduction())
	server := httpapi.NewServer(httpapi.DefaultServerConfig(cfg.Port, cfg.BackendTimeout), api, logger.Named("http"))

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(context.Background())
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received signal, initiating shutdown", zap.String("signal", sig.String()))
	case err := <-errChan:
		return err
	}

	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	return <-errChan
}

type oneShot struct {
	prompt string
	model  string
	width  int
	height int
	out    string
}

// runOnce generates a single image and returns the process exit code.
// SIGINT or SIGTERM cancel the request through the service.
func runOnce(svc *service.ImageGenerationService, job oneShot) int {
	req := domain.GenerationRequest{
		ID:       uuid.NewString(),
		Prompt:   job.prompt,
		ModelKey: job.model,
	}
	if job.width != 0 {
		req.Width = &job.width
	}
	if job.height != 0 {
		req.Height = &job.height
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		warnColor.Fprintf(os.Stderr, "\nReceived %s, cancelling request %s...\n", sig, req.ID)
		svc.Cancel(req.ID)
	}()

	dimColor.Printf("Generating image (request %s)...\n", req.ID)
	started := time.Now()
	res, err := svc.GenerateImage(context.Background(), req)
	if err != nil {
		return reportFailure(err)
	}

	if err := os.WriteFile(job.out, res.Image, 0o644); err != nil {
		errColor.Fprintf(os.Stderr, "Failed to write %s: %v\n", job.out, err)
		return 1
	}
	okColor.Printf("Saved %s ", job.out)
	dimColor.Printf("(%s, %d bytes, model %s, %v)\n",
		res.ContentType, len(res.Image), res.ModelKey, time.Since(started).Round(time.Millisecond))
	return 0
}

func reportFailure(err error) int {
	ge, ok := domain.AsGenerationError(err)
	if !ok {
		errColor.Fprintf(os.Stderr, "Generation failed: %v\n", err)
		return 1
	}
	if ge.Kind == domain.KindCancelled {
		warnColor.Fprintln(os.Stderr, ge.Message)
		return exitInterrupted
	}

	errColor.Fprintf(os.Stderr, "%s ", ge.Message)
	dimColor.Fprintf(os.Stderr, "[%s]\n", ge.Kind)
	for _, d := range ge.Details {
		fmt.Fprintf(os.Stderr, "  - %s\n", d)
	}
	if ge.Kind.Retryable() {
		warnColor.Fprintln(os.Stderr, "This failure is temporary; try again later.")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		dimColor.Fprintln(os.Stderr, "The backend deadline can be raised with BACKEND_TIMEOUT.")
	}
	return 1
}

func printModels(models []domain.ModelInfo, defaultKey string) {
	width := 0
	for _, m := range models {
		if len(m.Key) > width {
			width = len(m.Key)
		}
	}
	for _, m := range models {
		keyColor.Printf("%-*s ", width, m.Key)
		fmt.Printf("%s", m.DisplayName)
		if m.Key == defaultKey {
			okColor.Print(" (default)")
		}
		fmt.Println()
		if m.Description != "" {
			dimColor.Printf("%s %s\n", strings.Repeat(" ", width), m.Description)
		}
	}
}
