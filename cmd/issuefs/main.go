package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"issuefs/internal/fs"
	"issuefs/internal/logging"
	"issuefs/internal/persist"
	"issuefs/internal/query"
	"issuefs/internal/tracker"

	"github.com/joho/godotenv"
)

var (
	logger = logging.GetLogger()
)

// defaultGitHubURL is used when GITHUB_API_TOKEN is set without an
// explicit GITHUB_URL (i.e. github.com rather than an enterprise
// instance).
const defaultGitHubURL = "https://api.github.com"

// buildClients constructs one tracker client per configured backend.
// A tracker is configured by setting its *_URL (plus token) in the
// environment or a .env file.
func buildClients() map[tracker.Kind]tracker.Client {
	clients := map[tracker.Kind]tracker.Client{}

	if url := os.Getenv("JIRA_URL"); url != "" {
		clients[tracker.KindJira] = tracker.NewJiraClient(url, os.Getenv("JIRA_API_TOKEN"))
		logger.Info("Jira tracker configured: %s", url)
	}

	if token := os.Getenv("GITHUB_API_TOKEN"); token != "" || os.Getenv("GITHUB_URL") != "" {
		url := os.Getenv("GITHUB_URL")
		if url == "" {
			url = defaultGitHubURL
		}
		clients[tracker.KindGitHub] = tracker.NewGitHubClient(url, token)
		logger.Info("GitHub tracker configured: %s", url)
	}

	if url := os.Getenv("BUGZILLA_URL"); url != "" {
		clients[tracker.KindBugzilla] = tracker.NewBugzillaClient(url, os.Getenv("BUGZILLA_API_TOKEN"))
		logger.Info("Bugzilla tracker configured: %s", url)
	}

	if url := os.Getenv("REDMINE_URL"); url != "" {
		clients[tracker.KindRedmine] = tracker.NewRedmineClient(url, os.Getenv("REDMINE_API_TOKEN"))
		logger.Info("Redmine tracker configured: %s", url)
	}

	return clients
}

func main() {
	mountPoint := flag.String("mount", "", "Mount point for the issue filesystem")
	dbPath := flag.String("db", "", "Snapshot database directory (empty disables persistence)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	if *verbose {
		logging.SetDebug()
	}

	// Credentials usually live in a .env next to the binary; a missing
	// file is fine.
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded environment from .env")
	}

	logger.Info("Starting issuefs...")
	logger.Debug("Mount point: %s", *mountPoint)
	logger.Debug("Snapshot db: %s", *dbPath)

	if *mountPoint == "" {
		logger.Error("Mount point is required")
		os.Exit(1)
	}
	cleanMount := filepath.Clean(*mountPoint)

	clients := buildClients()
	if len(clients) == 0 {
		logger.Warn("No trackers configured; folders will reject queries")
	}

	var store *persist.Store
	var managerStore query.Store
	if *dbPath != "" {
		var err error
		store, err = persist.Open(filepath.Clean(*dbPath))
		if err != nil {
			logger.Error("Failed to open snapshot database: %v", err)
			os.Exit(1)
		}
		managerStore = store
	}

	manager := query.NewManager(clients, managerStore)
	ifs := fs.NewIssueFS(manager)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := ifs.Mount(cleanMount); err != nil {
		logger.Error("Mount failed: %v", err)
		manager.Close()
		if store != nil {
			store.Close()
		}
		os.Exit(1)
	}

	logger.Info("Filesystem mounted and ready")

	sig := <-sigChan
	logger.Info("Received signal %v", sig)

	if err := ifs.Unmount(cleanMount); err != nil {
		logger.Error("Unmount error: %v", err)
	}

	manager.Close()
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close snapshot database: %v", err)
		}
	}
	logger.Info("Clean shutdown complete")
}
