package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/teamdock/teamdock/internal/config"
	"github.com/teamdock/teamdock/internal/daemon"
	teamdockversion "github.com/teamdock/teamdock/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "teamdockd",
		Short:         "Teamdock daemon - destination registry and switch handshake",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Version = teamdockversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	if daemon.IsRunning() {
		return fmt.Errorf("daemon is already running")
	}

	paths, err := config.EnsureInstanceDirs()
	if err != nil {
		return fmt.Errorf("failed to prepare instance directories: %w", err)
	}

	settings, err := config.LoadSettings(paths)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	d, err := daemon.New(daemon.Options{Settings: settings, Paths: paths})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Start()
	}()

	log.Printf("Teamdock daemon started (PID: %d)", os.Getpid())

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %s, shutting down...", sig)
		if err := d.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
		<-errChan
	case err := <-errChan:
		if err != nil {
			log.Printf("Daemon error: %v", err)
			return err
		}
	}

	log.Println("Daemon stopped")
	return nil
}

func setupLogging() error {
	paths, err := config.EnsureInstanceDirs()
	if err != nil {
		return fmt.Errorf("initialise instance directories: %w", err)
	}

	logPath := filepath.Join(paths.Logs, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Printf("=== Teamdock Daemon Starting (PID: %d) ===", os.Getpid())
	log.Printf("Log file: %s", logPath)
	return nil
}
