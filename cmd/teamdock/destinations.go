package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/teamdock/teamdock/internal/client"
)

func newDestinationsCommand() *cobra.Command {
	destinationsCmd := &cobra.Command{
		Use:           "destinations",
		Short:         "Inspect and edit the destination registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List destinations and the active pointer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          destinationsList,
	}

	addCmd := &cobra.Command{
		Use:           "add <id> <label>",
		Short:         "Add a destination (starts without a password)",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          destinationsAdd,
	}

	renameCmd := &cobra.Command{
		Use:           "rename <id> <label>",
		Short:         "Change a destination's display label",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          destinationsRename,
	}

	removeCmd := &cobra.Command{
		Use:           "remove <id>",
		Short:         "Remove a destination (requires the administrator password)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          destinationsRemove,
	}
	removeCmd.Flags().String("admin-password", "", "Administrator password (prompted when omitted)")

	editCmd := &cobra.Command{
		Use:           "edit",
		Short:         "Replace the registry from a JSON file of {id, label} entries",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          destinationsEdit,
	}
	editCmd.Flags().StringP("file", "f", "", "JSON file holding the full destination list (required)")
	editCmd.Flags().String("admin-password", "", "Administrator password (needed when the edit removes destinations)")
	editCmd.MarkFlagRequired("file")

	destinationsCmd.AddCommand(listCmd, addCmd, renameCmd, removeCmd, editCmd)
	return destinationsCmd
}

func destinationsList(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	ctx, cancel := newRequestContext()
	defer cancel()

	list, err := c.ListDestinations(ctx)
	if err != nil {
		return out.Error("Failed to list destinations", err)
	}

	if out.jsonMode {
		return out.Print(list)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tPROTECTED\tACTIVE")
	for _, d := range list.Destinations {
		active := ""
		if d.ID == list.ActiveID {
			active = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", d.ID, d.Label, d.Protected, active)
	}
	return w.Flush()
}

// editDestinations fetches the current registry, applies edit, and submits
// the resulting list as a bulk replacement.
func editDestinations(c *client.Client, adminPassword string, edit func([]client.DestinationEdit) ([]client.DestinationEdit, error)) (client.DestinationList, error) {
	ctx, cancel := newRequestContext()
	defer cancel()

	current, err := c.ListDestinations(ctx)
	if err != nil {
		return client.DestinationList{}, err
	}

	edits := make([]client.DestinationEdit, 0, len(current.Destinations))
	for _, d := range current.Destinations {
		edits = append(edits, client.DestinationEdit{ID: d.ID, Label: d.Label})
	}

	edits, err = edit(edits)
	if err != nil {
		return client.DestinationList{}, err
	}

	return c.ReplaceDestinations(ctx, edits, adminPassword)
}

func destinationsAdd(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	id, label := args[0], args[1]

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	_, err = editDestinations(c, "", func(edits []client.DestinationEdit) ([]client.DestinationEdit, error) {
		for _, e := range edits {
			if e.ID == id {
				return nil, fmt.Errorf("destination %s already exists", id)
			}
		}
		return append(edits, client.DestinationEdit{ID: id, Label: label}), nil
	})
	if err != nil {
		return out.Error("Failed to add destination", err)
	}

	return out.Success(fmt.Sprintf("Destination %s added", id), map[string]interface{}{
		"id":    id,
		"label": label,
	})
}

func destinationsRename(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	id, label := args[0], args[1]

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	_, err = editDestinations(c, "", func(edits []client.DestinationEdit) ([]client.DestinationEdit, error) {
		for i := range edits {
			if edits[i].ID == id {
				edits[i].Label = label
				return edits, nil
			}
		}
		return nil, fmt.Errorf("destination %s not found", id)
	})
	if err != nil {
		return out.Error("Failed to rename destination", err)
	}

	return out.Success(fmt.Sprintf("Destination %s renamed", id), map[string]interface{}{
		"id":    id,
		"label": label,
	})
}

func destinationsEdit(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	path, _ := cmd.Flags().GetString("file")
	adminPassword, _ := cmd.Flags().GetString("admin-password")

	data, err := os.ReadFile(path)
	if err != nil {
		return out.Error("Failed to read destination file", err)
	}

	var edits []client.DestinationEdit
	if err := json.Unmarshal(data, &edits); err != nil {
		return out.Error("Failed to parse destination file", err)
	}

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	ctx, cancel := newRequestContext()
	defer cancel()

	list, err := c.ReplaceDestinations(ctx, edits, adminPassword)
	if err != nil {
		if isCode(err, "ADMIN_REQUIRED") && adminPassword == "" {
			return out.Error("Edit removes destinations; rerun with --admin-password", err)
		}
		return out.Error("Failed to replace destinations", err)
	}

	return out.Success(fmt.Sprintf("Registry replaced (%d destinations)", len(list.Destinations)), map[string]interface{}{
		"destinations": len(list.Destinations),
		"activeId":     list.ActiveID,
	})
}

func destinationsRemove(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	id := args[0]

	adminPassword, _ := cmd.Flags().GetString("admin-password")
	if adminPassword == "" {
		var err error
		adminPassword, err = promptPassword("Administrator password: ")
		if err != nil {
			return out.Error("Failed to read password", err)
		}
	}

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to initialise client", err)
	}

	_, err = editDestinations(c, adminPassword, func(edits []client.DestinationEdit) ([]client.DestinationEdit, error) {
		kept := edits[:0]
		found := false
		for _, e := range edits {
			if e.ID == id {
				found = true
				continue
			}
			kept = append(kept, e)
		}
		if !found {
			return nil, fmt.Errorf("destination %s not found", id)
		}
		return kept, nil
	})
	if err != nil {
		return out.Error("Failed to remove destination", err)
	}

	return out.Success(fmt.Sprintf("Destination %s removed", id), map[string]interface{}{
		"id": id,
	})
}
