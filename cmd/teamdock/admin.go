package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/teamdock/teamdock/internal/client"
)

func newPasswordCommand() *cobra.Command {
	passwordCmd := &cobra.Command{
		Use:           "password",
		Short:         "Manage destination passwords",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setCmd := &cobra.Command{
		Use:           "set <destination-id>",
		Short:         "Set or rotate a destination password",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          passwordSet,
	}
	setCmd.Flags().String("current", "", "Current password (required when the destination is protected)")
	setCmd.Flags().String("new", "", "New password (prompted when omitted)")

	clearCmd := &cobra.Command{
		Use:           "clear <destination-id>",
		Short:         "Remove a destination's password protection",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          passwordClear,
	}
	clearCmd.Flags().String("current", "", "Current password (prompted when omitted)")

	passwordCmd.AddCommand(setCmd, clearCmd)
	return passwordCmd
}

func passwordSet(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	id := args[0]

	current, _ := cmd.Flags().GetString("current")
	newPassword, _ := cmd.Flags().GetString("new")
	if newPassword == "" {
		var err error
		newPassword, err = promptPassword("New password: ")
		if err != nil {
			return out.Error("Failed to read password", err)
		}
	}

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	ctx, cancel := newRequestContext()
	defer cancel()

	err = c.UpdatePassword(ctx, id, current, newPassword, false)
	if isCode(err, "INVALID_PASSWORD") && current == "" {
		// Protected destination: ask for the current password and retry once.
		prompted, promptErr := promptPassword("Current password: ")
		if promptErr != nil {
			return out.Error("Failed to read password", promptErr)
		}
		retryCtx, retryCancel := newRequestContext()
		defer retryCancel()
		err = c.UpdatePassword(retryCtx, id, prompted, newPassword, false)
	}
	if err != nil {
		return out.Error("Failed to update password", err)
	}

	return out.Success(fmt.Sprintf("Password updated for %s", id), map[string]interface{}{
		"id": id,
	})
}

func passwordClear(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	id := args[0]

	current, _ := cmd.Flags().GetString("current")
	if current == "" {
		var err error
		current, err = promptPassword("Current password: ")
		if err != nil {
			return out.Error("Failed to read password", err)
		}
	}

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	ctx, cancel := newRequestContext()
	defer cancel()

	if err := c.UpdatePassword(ctx, id, current, "", true); err != nil {
		return out.Error("Failed to clear password", err)
	}

	return out.Success(fmt.Sprintf("Password cleared for %s", id), map[string]interface{}{
		"id": id,
	})
}

func newAdminCommand() *cobra.Command {
	adminCmd := &cobra.Command{
		Use:           "admin",
		Short:         "Administrator credential commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setCmd := &cobra.Command{
		Use:           "set-password",
		Short:         "Configure the administrator password (one-shot)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          adminSetPassword,
	}
	setCmd.Flags().String("password", "", "Administrator password (prompted when omitted)")

	verifyCmd := &cobra.Command{
		Use:           "verify",
		Short:         "Verify the administrator password",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          adminVerify,
	}
	verifyCmd.Flags().String("password", "", "Administrator password (prompted when omitted)")

	adminCmd.AddCommand(setCmd, verifyCmd)
	return adminCmd
}

func adminSetPassword(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		var err error
		password, err = promptPassword("Administrator password: ")
		if err != nil {
			return out.Error("Failed to read password", err)
		}
		confirm, err := promptPassword("Repeat password: ")
		if err != nil {
			return out.Error("Failed to read password", err)
		}
		if password != confirm {
			return out.Error("Passwords do not match", errors.New("mismatch"))
		}
	}

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	ctx, cancel := newRequestContext()
	defer cancel()

	if err := c.SetAdminPassword(ctx, password); err != nil {
		if isCode(err, "ALREADY_SET") {
			return out.Error("Administrator password is already configured", err)
		}
		return out.Error("Failed to set administrator password", err)
	}

	return out.Success("Administrator password configured", nil)
}

func adminVerify(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		var err error
		password, err = promptPassword("Administrator password: ")
		if err != nil {
			return out.Error("Failed to read password", err)
		}
	}

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	ctx, cancel := newRequestContext()
	defer cancel()

	if err := c.VerifyAdminPassword(ctx, password); err != nil {
		return out.Error("Verification failed", err)
	}
	return out.Success("Password verified", nil)
}

func isCode(err error, code string) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
