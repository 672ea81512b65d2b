package main

import (
	"fmt"
	"log"
	"os"

	"github.com/openkanban/boardsync/config"
	"github.com/openkanban/boardsync/internal/api"
	"github.com/openkanban/boardsync/internal/db"
	"github.com/openkanban/boardsync/internal/events"
	"github.com/openkanban/boardsync/internal/sync"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "boardsync",
	Short:         "Keeps kanban board cards and GitHub issues in sync",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to configuration file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(autocloseCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(cardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createDefaultConfig() error {
	return config.CreateDefaultConfig(configPath)
}

// app holds everything a command needs once the config and database are open.
type app struct {
	cfg      *config.Config
	database *db.DB
	bus      *events.Bus
	engine   *sync.Engine
}

// openApp loads the configuration, opens the database and wires the engine.
func openApp() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	if err := database.Initialize(); err != nil {
		database.Close()
		return nil, err
	}

	bus := events.NewBus()
	client := api.NewGitHubClient(cfg.GitHubToken)
	engine := sync.New(sync.NewDBStore(database), client, bus, nil)

	return &app{cfg: cfg, database: database, bus: bus, engine: engine}, nil
}

func (a *app) Close() {
	a.database.Close()
}

// logEvents subscribes a logging handler so fire-and-forget outcomes show up
// in the daemon log.
func (a *app) logEvents(logger *log.Logger) {
	a.bus.Subscribe(func(e events.Event) {
		switch ev := e.(type) {
		case events.IssuesImported:
			logger.Printf("event %s: project=%s imported=%d", ev.EventName(), ev.ProjectID, ev.ImportedCount)
		case events.PRMergedAutoClosed:
			logger.Printf("event %s: project=%s card=%s pr=#%d", ev.EventName(), ev.ProjectID, ev.CardID, ev.PRNumber)
		default:
			logger.Printf("event %s", e.EventName())
		}
	})
}
