// Package main provides the CLI entrypoint for sproutsync.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sproutlabs/sproutsync/internal/care"
	"github.com/sproutlabs/sproutsync/internal/config"
	"github.com/sproutlabs/sproutsync/internal/logger"
	"github.com/sproutlabs/sproutsync/internal/remote"
	"github.com/sproutlabs/sproutsync/internal/store"
	syncengine "github.com/sproutlabs/sproutsync/internal/sync"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sproutsync",
	Short: "Offline-first sync engine for sprout care records",
	Long: `sproutsync keeps a local SQLite store of child profiles and care
events and reconciles it with the sprout sync service in the
background. Writes always land locally first; the engine pushes
pending records and pulls remote changes when connectivity allows.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync engine until interrupted",
	Long: `Run the sync engine as a long-lived process. Every local write
nudges a debounced sync cycle; press Ctrl+C to flush pending
changes and exit.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending records and pull watermarks",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var addChildCmd = &cobra.Command{
	Use:   "add-child",
	Short: "Create a child profile",
	Args:  cobra.NoArgs,
	RunE:  runAddChild,
}

var logEventCmd = &cobra.Command{
	Use:   "log <child-id> <type>",
	Short: "Log a care event for a child",
	Long: `Log a care event. The type must be one of: nap, meal, diaper, note,
message, growth, meds, activity. The payload is free-form JSON whose
shape depends on the type; it is stored and synced verbatim.`,
	Args: cobra.ExactArgs(2),
	RunE: runLogEvent,
}

var childrenCmd = &cobra.Command{
	Use:   "children",
	Short: "List child profiles",
	Args:  cobra.NoArgs,
	RunE:  runChildren,
}

var eventsCmd = &cobra.Command{
	Use:   "events <child-id>",
	Short: "List care events for a child",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

var (
	childName      string
	childBirthdate string
	childSex       string
	childAvatarURL string
	eventPayload   string
	eventVis       string
	eventOrgID     string
	noSync         bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/sproutsync/config.yml)")

	addChildCmd.Flags().StringVar(&childName, "name", "", "display name (required)")
	addChildCmd.Flags().StringVar(&childBirthdate, "birthdate", "", "birth date, YYYY-MM-DD (required)")
	addChildCmd.Flags().StringVar(&childSex, "sex", "", "male or female")
	addChildCmd.Flags().StringVar(&childAvatarURL, "avatar-url", "", "avatar reference")
	addChildCmd.MarkFlagRequired("name")
	addChildCmd.MarkFlagRequired("birthdate")

	logEventCmd.Flags().StringVar(&eventPayload, "payload", "", "event payload as JSON")
	logEventCmd.Flags().StringVar(&eventVis, "visibility", "all", "all, parents_only, or org_only")
	logEventCmd.Flags().StringVar(&eventOrgID, "org", "", "organization id")

	for _, cmd := range []*cobra.Command{addChildCmd, logEventCmd} {
		cmd.Flags().BoolVar(&noSync, "no-sync", false, "write locally without triggering a sync")
	}

	rootCmd.AddCommand(runCmd, syncCmd, statusCmd, addChildCmd, logEventCmd, childrenCmd, eventsCmd)
}

// setup loads config, configures logging, and opens the local store.
func setup() (config.Config, *store.DB, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return config.Config{}, nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger.SetLevel(level)
	if cfg.LogFile != "" {
		logger.SetLogFile(cfg.LogFile)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to open local store: %w", err)
	}

	return cfg, db, nil
}

// newEngine wires the engine against the configured remote.
func newEngine(cfg config.Config, db *store.DB) (*syncengine.Engine, error) {
	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("remote_url is not configured; set it in the config file")
	}

	debounce, err := cfg.DebounceDuration()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.CallTimeoutDuration()
	if err != nil {
		return nil, err
	}

	client := remote.New(cfg.RemoteURL, cfg.AuthToken)
	return syncengine.NewEngine(db, client, debounce, timeout), nil
}

// syncOnce authenticates the engine and waits for the cycle it triggers to
// reach a terminal state.
func syncOnce(engine *syncengine.Engine) syncengine.Status {
	done := make(chan syncengine.Status, 1)
	unsubscribe := engine.Subscribe(func(s syncengine.Status) {
		if s == syncengine.StatusSyncing {
			return
		}
		select {
		case done <- s:
		default:
		}
	})
	defer unsubscribe()

	engine.SetAuthenticated(true)
	return <-done
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()
	defer logger.Close()

	engine, err := newEngine(cfg, db)
	if err != nil {
		return err
	}

	unsubscribeStatus := engine.Subscribe(func(s syncengine.Status) {
		logger.Info("sync: status %s", s)
	})
	defer unsubscribeStatus()

	// Any committed local write nudges a debounced cycle; watermark
	// bookkeeping writes are the engine's own and must not re-trigger it.
	unsubscribeStore := db.Subscribe(func(table string) {
		if table != "sync_meta" {
			engine.Nudge()
		}
	})
	defer unsubscribeStore()

	engine.SetAuthenticated(true)

	fmt.Printf("syncing %s against %s\n", cfg.DBPath, cfg.RemoteURL)
	fmt.Println("press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("stopping...")
	engine.Stop()

	// Flush anything still pending before exit.
	if err := engine.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: final sync failed: %v\n", err)
	}

	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()
	defer logger.Close()

	engine, err := newEngine(cfg, db)
	if err != nil {
		return err
	}

	if status := syncOnce(engine); status == syncengine.StatusError {
		return fmt.Errorf("sync cycle failed; see log for details")
	}

	fmt.Println("sync complete")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	pendingChildren, err := db.PendingChildren()
	if err != nil {
		return err
	}
	pendingEvents, err := db.PendingEvents()
	if err != nil {
		return err
	}

	fmt.Printf("children awaiting push: %d\n", len(pendingChildren))
	fmt.Printf("events awaiting push:   %d\n", len(pendingEvents))

	for _, key := range []string{store.WatermarkChildren, store.WatermarkEvents} {
		mark, err := db.Watermark(key)
		if err != nil {
			return err
		}
		if mark == nil {
			fmt.Printf("%s: never pulled\n", key)
			continue
		}
		if t, err := time.Parse(time.RFC3339, *mark); err == nil {
			fmt.Printf("%s: %s (%s)\n", key, *mark, humanize.Time(t))
		} else {
			fmt.Printf("%s: %s\n", key, *mark)
		}
	}

	for _, c := range pendingChildren {
		if c.SyncStatus == store.StatusError {
			fmt.Printf("  child %s (%s) failed its last push\n", c.ID, c.Name)
		}
	}
	for _, ev := range pendingEvents {
		if ev.SyncStatus == store.StatusError {
			fmt.Printf("  event %s (%s) failed its last push\n", ev.ID, ev.Type)
		}
	}

	return nil
}

func runAddChild(cmd *cobra.Command, args []string) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()
	defer logger.Close()

	service := care.NewService(db, nil)
	child, err := service.NewChild(care.NewChildParams{
		Name:      childName,
		Birthdate: childBirthdate,
		Sex:       childSex,
		AvatarURL: childAvatarURL,
	})
	if err != nil {
		return err
	}

	fmt.Printf("created child %s (%s)\n", child.ID, child.Name)
	return maybeSync(cfg, db)
}

func runLogEvent(cmd *cobra.Command, args []string) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()
	defer logger.Close()

	service := care.NewService(db, nil)
	event, err := service.LogEvent(care.LogEventParams{
		ChildID:        args[0],
		Type:           args[1],
		Payload:        json.RawMessage(eventPayload),
		Visibility:     eventVis,
		OrganizationID: eventOrgID,
	})
	if err != nil {
		return err
	}

	fmt.Printf("logged %s event %s\n", event.Type, event.ID)
	return maybeSync(cfg, db)
}

// maybeSync runs one cycle after a write unless --no-sync was given or no
// remote is configured. Offline writes simply stay pending.
func maybeSync(cfg config.Config, db *store.DB) error {
	if noSync || cfg.RemoteURL == "" {
		fmt.Println("record queued for sync")
		return nil
	}

	engine, err := newEngine(cfg, db)
	if err != nil {
		return err
	}

	if status := syncOnce(engine); status == syncengine.StatusError {
		fmt.Fprintln(os.Stderr, "warning: sync failed; record stays queued for retry")
	}
	return nil
}

func runChildren(cmd *cobra.Command, args []string) error {
	_, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	children, err := db.ListChildren()
	if err != nil {
		return err
	}

	for _, c := range children {
		age := c.Birthdate
		if t, err := time.Parse("2006-01-02", c.Birthdate); err == nil {
			age = humanize.RelTime(t, time.Now(), "old", "")
		}
		fmt.Printf("%s  %-20s %s  [%s]\n", c.ID, c.Name, age, c.SyncStatus)
	}

	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	_, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := db.ListEvents(args[0])
	if err != nil {
		return err
	}

	for _, ev := range events {
		when := ev.CreatedAt
		if t, err := time.Parse(time.RFC3339, ev.CreatedAt); err == nil {
			when = humanize.Time(t)
		}
		fmt.Printf("%s  %-8s %-12s %s  [%s]\n", ev.ID, ev.Type, when, ev.Payload, ev.SyncStatus)
	}

	return nil
}
