package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/teamdock/teamdock/internal/client"
	teamdockversion "github.com/teamdock/teamdock/internal/version"
)

const requestTimeout = 10 * time.Second

var rootCmd *cobra.Command

// OutputFormatter handles output in JSON or human-readable format.
type OutputFormatter struct {
	jsonMode bool
}

func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print outputs data in the appropriate format.
func (f *OutputFormatter) Print(data interface{}) error {
	if f.jsonMode {
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonBytes))
		return nil
	}
	switch v := data.(type) {
	case string:
		fmt.Println(v)
	default:
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	}
	return nil
}

// Success outputs a success message.
func (f *OutputFormatter) Success(message string, data map[string]interface{}) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Println(message)
	return nil
}

// Error outputs an error message and returns a wrapped error for the caller.
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(os.Stderr, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(os.Stderr, message)
		}
	}
	return fmt.Errorf("%s: %w", message, err)
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "teamdock",
		Short: "Teamdock - switch the shell between team backend destinations",
		Long: `Teamdock manages a registry of backend destinations and the active
destination pointer. Protected destinations require their password before a
switch is applied; destructive registry edits require the administrator
password.`,
	}
	rootCmd.Version = teamdockversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
}

func main() {
	statusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Show daemon status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStatus,
	}

	notifyCmd := &cobra.Command{
		Use:           "notify <title> [body]",
		Short:         "Send a notification to all attached observers",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          sendNotification,
	}

	watchCmd := &cobra.Command{
		Use:           "watch",
		Short:         "Stream registry and switch events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          watchEvents,
	}

	rootCmd.AddCommand(
		statusCmd,
		newDestinationsCommand(),
		newSwitchCommand(),
		newPasswordCommand(),
		newAdminCommand(),
		notifyCmd,
		watchCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRequestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func daemonStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	ctx, cancel := newRequestContext()
	defer cancel()

	status, err := c.Status(ctx)
	if err != nil {
		return out.Error("Failed to fetch daemon status", err)
	}

	warning := teamdockversion.CheckVersionMismatch(status.Version)

	if out.jsonMode {
		return out.Print(status)
	}

	fmt.Println("Daemon Status:")
	fmt.Printf("  Version: %s\n", status.Version)
	fmt.Printf("  Store Backend: %s\n", status.StoreBackend)
	fmt.Printf("  Destinations: %d\n", status.Destinations)
	fmt.Printf("  Active: %s\n", status.ActiveID)
	fmt.Printf("  Observers: %d\n", status.Observers)
	fmt.Printf("  Admin Configured: %v\n", status.AdminSet)
	if warning != "" {
		fmt.Fprintln(os.Stderr, warning)
	}
	return nil
}

func sendNotification(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	title := args[0]
	body := ""
	if len(args) > 1 {
		body = args[1]
	}

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	ctx, cancel := newRequestContext()
	defer cancel()

	if err := c.Notify(ctx, title, body); err != nil {
		return out.Error("Failed to send notification", err)
	}
	return out.Success("Notification sent", nil)
}

func watchEvents(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Watch(ctx)
	if err != nil {
		return out.Error("Failed to attach to event stream", err)
	}

	if !out.jsonMode {
		fmt.Println("Watching events (Ctrl+C to stop)...")
	}

	for ev := range events {
		if out.jsonMode {
			line, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Println(string(line))
			continue
		}
		fmt.Printf("%s  %-22s %s\n",
			ev.Timestamp.Format(time.RFC3339), ev.Type, string(ev.Payload))
	}
	return nil
}
