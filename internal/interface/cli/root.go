package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tomasky/ccbridge/internal/core/config"
	"github.com/tomasky/ccbridge/internal/core/db"
	"github.com/tomasky/ccbridge/internal/core/event"
	"github.com/tomasky/ccbridge/internal/core/logging"
	"github.com/tomasky/ccbridge/internal/core/store"
)

var (
	dbPath      string
	logLevel    string
	versionInfo string
)

// SetVersion sets the version information from build-time ldflags
func SetVersion(version, commit, date string) {
	versionInfo = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	rootCmd.Version = versionInfo
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ccbridge",
	Short: "Streaming bridge to the claude CLI",
	Long: `ccbridge - run commands through the claude CLI as resumable sessions

Each command spawns one claude process, streams its answer as it arrives,
and keeps the conversation resumable across invocations. Sessions live in
a local database and survive restarts.`,
}

func init() {
	// Global flags
	home, err := os.UserHomeDir()
	if err != nil {
		home = "~"
	}
	defaultDB := filepath.Join(home, ".config", "ccbridge", "sessions.db")

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "Database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

// app bundles the wired-together services every command needs.
type app struct {
	cfg       *config.Config
	bus       *event.Bus
	store     *store.Store
	database  *db.DB
	persister *db.Persister
}

// openApp loads config, opens the database, and hydrates the store. The
// persister attaches to the bus only after hydration so startup does not
// echo back into the database.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logging.Init(logging.Config{Level: logging.ParseLevel(level), Pretty: true})

	database, err := db.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	persister := db.NewPersister(database)
	state, err := persister.Load()
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	bus := event.NewBus()
	st := store.New(bus)
	st.Hydrate(state)
	persister.Attach(bus)

	return &app{
		cfg:       cfg,
		bus:       bus,
		store:     st,
		database:  database,
		persister: persister,
	}, nil
}

func (a *app) Close() {
	a.persister.Detach()
	_ = a.bus.Close()
	_ = a.database.Close()
}
