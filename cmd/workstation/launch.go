package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/cloud-workstations/internal/catalog"
	"github.com/shehryarbajwa/cloud-workstations/internal/client"
	"github.com/shehryarbajwa/cloud-workstations/internal/launch"
	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

func newLaunchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "launch [windows|mac|linux]",
		Short: "Launch a workstation and print its connection details",
		Long: "Launch a workstation and print its connection details.\n\n" +
			"Without an argument an interactive picker lists the available profiles.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			names := fetchCatalog(ctx, opts)

			var osID models.OSIdentifier
			if len(args) == 1 {
				id, err := models.ParseOSIdentifier(args[0])
				if err != nil {
					return err
				}
				osID = id
			} else {
				id, err := pickOS(ctx, names)
				if err != nil {
					return err
				}
				osID = id
			}

			return runLaunch(ctx, opts, names, osID)
		},
	}
}

// pickOS prompts for a profile
func pickOS(ctx context.Context, names catalog.Catalog) (models.OSIdentifier, error) {
	options := make([]huh.Option[models.OSIdentifier], 0, len(models.AllOSIdentifiers()))
	for _, e := range names.Entries() {
		options = append(options, huh.NewOption(e.Profile.Name, e.OS))
	}

	var picked models.OSIdentifier
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[models.OSIdentifier]().
				Title("Operating system").
				Description("Choose the workstation to launch").
				Options(options...).
				Value(&picked),
		),
	).RunWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("select operating system: %w", err)
	}
	return picked, nil
}

// runLaunch drives one controller through a launch and renders every transition
func runLaunch(ctx context.Context, opts *options, names catalog.Catalog, osID models.OSIdentifier) error {
	ctrl := launch.New(client.New(opts.server, 0), opts.logger)
	defer ctrl.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	if err := ctrl.Launch(osID); err != nil {
		return err
	}

	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for workstation: %w", ctx.Err())
		case s, ok := <-updates:
			if !ok {
				return launch.ErrClosed
			}
			opts.ui.State(s, names)
			switch s.Phase() {
			case launch.PhaseReady:
				return nil
			case launch.PhaseFailed:
				return errLaunchFailed
			}
		}
	}
}
