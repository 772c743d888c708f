package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/rewear/internal/api"
	"github.com/erazemk/rewear/internal/auth"
	"github.com/erazemk/rewear/internal/config"
	"github.com/erazemk/rewear/internal/db"
	"github.com/erazemk/rewear/internal/events"
	"github.com/erazemk/rewear/internal/imaging"
	"github.com/erazemk/rewear/internal/logging"
	"github.com/erazemk/rewear/internal/media"
	"github.com/erazemk/rewear/internal/model"
	"github.com/erazemk/rewear/internal/store"
	"github.com/erazemk/rewear/internal/swap"
)

func main() {
	fs := flag.NewFlagSet("rewear", flag.ContinueOnError)

	var configPath string
	fs.StringVar(&configPath, "config", "", "")
	fs.StringVar(&configPath, "c", "", "")

	var dbPath string
	fs.StringVar(&dbPath, "db", "", "")
	fs.StringVar(&dbPath, "d", "", "")

	var addr string
	fs.StringVar(&addr, "addr", "", "")
	fs.StringVar(&addr, "a", "", "")

	var logPath string
	fs.StringVar(&logPath, "log", "", "")
	fs.StringVar(&logPath, "l", "", "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: rewear [flags]

Flags:
  -c, -config <path>      YAML config file (default: none, built-in defaults)
  -d, -db <path>          SQLite database path (default: rewear.sqlite3)
  -a, -addr <host:port>   listen address (default: :8080)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -h, -help               show this help and exit

Settings can also be given as REWEAR_* environment variables or in a .env file.
`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", fs.Arg(0))
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logPath != "" {
		cfg.Log.File = logPath
	}

	// INFO/WARN go to stdout, ERROR to stderr, everything to the log file.
	logger, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server error")
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check if DB exists, auto-init if not.
	if _, err := os.Stat(cfg.Database.Path); os.IsNotExist(err) {
		database, password, err := initDatabase(cfg.Database.Path, cfg.Admin)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		database.Close()

		printInitResult(cfg.Database.Path, cfg.Admin.Email, password)
		fmt.Println()
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	logger.Info().Str("path", cfg.Database.Path).Msg("database ready")

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		// Generated once and kept in the settings table.
		jwtSecret, err = store.GetJWTSecret(ctx, database)
		if err != nil {
			return fmt.Errorf("getting JWT secret: %w", err)
		}
	}

	var publisher events.Publisher = events.LogPublisher{Log: logger}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing swap events to kafka")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing event publisher")
		}
	}()

	var images media.Store = &media.DBStore{DB: database}
	if cfg.S3.Bucket != "" {
		s3Store, err := media.NewS3Store(ctx, media.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			PublicURL: cfg.S3.PublicURL,
		})
		if err != nil {
			return fmt.Errorf("setting up S3 image store: %w", err)
		}
		images = s3Store
		logger.Info().Str("bucket", cfg.S3.Bucket).Msg("storing images in S3")
	}

	swaps := swap.NewService(database, publisher, logger)
	swaps.Expiry = cfg.Swap.Expiry

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		swaps.RunSweeper(ctx, cfg.Swap.SweepInterval)
	}()

	router := api.NewRouter(api.Options{
		DB:        database,
		JWTSecret: jwtSecret,
		Log:       logger,
		Swaps:     swaps,
		Images:    images,
		Processor: &imaging.Processor{
			MaxDimension: cfg.Upload.MaxDimension,
			Quality:      cfg.Upload.JPEGQuality,
		},
		MaxUploadBytes: cfg.Upload.MaxBytes,
		ApprovalPoints: cfg.Swap.ApprovalPoints,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server forced to shutdown")
		}
	}()

	logger.Info().Str("addr", cfg.Server.Addr).Msg("server started")
	err = server.ListenAndServe()
	stop()
	wg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	logger.Info().Msg("server stopped, closing database")
	return nil
}

// initDatabase creates a new database, runs migrations, and creates the admin user.
func initDatabase(path string, admin config.AdminConfig) (*sql.DB, string, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening database: %w", err)
	}

	fail := func(err error) (*sql.DB, string, error) {
		database.Close()
		os.Remove(path)
		return nil, "", err
	}

	if err := db.Migrate(database); err != nil {
		return fail(fmt.Errorf("migrating: %w", err))
	}

	password, err := auth.GeneratePassword(16)
	if err != nil {
		return fail(fmt.Errorf("generating password: %w", err))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fail(fmt.Errorf("hashing password: %w", err))
	}

	_, err = store.CreateUser(context.Background(), database, admin.Name, admin.Email, string(hash), model.RoleAdmin)
	if err != nil {
		return fail(fmt.Errorf("creating admin user: %w", err))
	}

	return database, password, nil
}

// printInitResult prints the database initialization result to stdout.
func printInitResult(dbPath, email, password string) {
	fmt.Printf("Database created: %s\n", dbPath)
	fmt.Println("Schema initialized.")
	fmt.Println()
	fmt.Println("Admin account created:")
	fmt.Printf("  Email:    %s\n", email)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("The admin can change it after logging in.")
}
