package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/teamdock/teamdock/internal/client"
)

func newSwitchCommand() *cobra.Command {
	switchCmd := &cobra.Command{
		Use:   "switch <destination-id>",
		Short: "Switch the active destination",
		Long: `Switch the active destination. Open destinations apply immediately.
Protected destinations prompt for their password and confirm in a second step.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          switchDestination,
	}
	switchCmd.Flags().String("password", "", "Destination password (prompted when required and omitted)")
	return switchCmd
}

func switchDestination(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	id := args[0]

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	ctx, cancel := newRequestContext()
	defer cancel()

	result, err := c.RequestSwitch(ctx, id)
	if err != nil {
		return out.Error("Failed to request switch", err)
	}

	switch result.Status {
	case "already_active":
		return out.Success(fmt.Sprintf("Destination %s is already active", id), map[string]interface{}{
			"active_id": result.ActiveID,
		})
	case "applied":
		return out.Success(fmt.Sprintf("Switched to %s", id), map[string]interface{}{
			"active_id": result.ActiveID,
		})
	case "needs_password":
		return confirmProtectedSwitch(cmd, out, c, id)
	default:
		return out.Error("Unexpected switch status", fmt.Errorf("status %q", result.Status))
	}
}

func confirmProtectedSwitch(cmd *cobra.Command, out *OutputFormatter, c *client.Client, id string) error {
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		var err error
		password, err = promptPassword(fmt.Sprintf("Password for %s: ", id))
		if err != nil {
			return out.Error("Failed to read password", err)
		}
	}

	ctx, cancel := newRequestContext()
	defer cancel()

	result, err := c.ConfirmSwitch(ctx, id, password)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "INVALID_PASSWORD" {
			// Cancel the handshake so no stale pending entry survives the CLI.
			cancelCtx, cancelFn := newRequestContext()
			defer cancelFn()
			c.CancelSwitch(cancelCtx)
			return out.Error("Invalid password", err)
		}
		return out.Error("Failed to confirm switch", err)
	}

	return out.Success(fmt.Sprintf("Switched to %s", id), map[string]interface{}{
		"active_id": result.ActiveID,
	})
}
