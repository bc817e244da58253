package main

import (
	_ "embed"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"doc-translator/internal/auth"
	"doc-translator/internal/config"
	"doc-translator/internal/db"
	"doc-translator/internal/engine"
	"doc-translator/internal/settings"
	"doc-translator/internal/task"
	"doc-translator/internal/translate"
	"doc-translator/internal/web"
)

//go:embed .version
var version string

// setupLogger configures the global slog logger based on debug setting
func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if present (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	var (
		port       = flag.Int("port", 0, "Port to listen on (overrides config)")
		host       = flag.String("host", "", "Host to bind to (overrides config)")
		configPath = flag.String("config", "", "Config file path")
		dataDir    = flag.String("data-dir", "", "Data directory")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		showVer    = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVer {
		fmt.Println(strings.TrimSpace(version))
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *host != "" {
		cfg.Web.Host = *host
	}
	if *port != 0 {
		cfg.Web.Port = *port
	}
	if *debug {
		cfg.Debug = true
	}

	setupLogger(cfg.Debug)
	slog.Info("starting doc-translator", "version", strings.TrimSpace(version))

	if cfg.DataDir == "" {
		return fmt.Errorf("data directory must be specified via --data-dir flag or config file")
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	// Anything still marked running from before the restart is a lie now.
	if _, err := database.RecoverStaleTasks(); err != nil {
		return fmt.Errorf("failed to recover stale tasks: %w", err)
	}
	if err := database.PurgeExpiredSessions(); err != nil {
		return fmt.Errorf("failed to purge expired sessions: %w", err)
	}

	authSvc, err := auth.NewService(database, time.Duration(cfg.Auth.TokenExpiryHours)*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}

	store, err := settings.NewStore(database, settings.Settings{
		Model:      cfg.Engine.Model,
		APIKey:     cfg.GetEngineAPIKey(),
		BaseURL:    cfg.Engine.BaseURL,
		LangIn:     "en",
		LangOut:    "zh",
		ChunkChars: cfg.Engine.ChunkChars,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize settings: %w", err)
	}

	tasks := task.NewManager(database, task.NewRegistry(cfg.Translate.ChannelBuffer))
	runner := translate.NewRunner(tasks, store, engine.NewOpenAI(), cfg.GetMaxConcurrent(), cfg.DataDir)

	slog.Info("translation capacity", "max_concurrent", cfg.GetMaxConcurrent())

	server := web.NewServer(cfg, database, authSvc, tasks, store, runner)
	return server.ListenAndServe()
}
