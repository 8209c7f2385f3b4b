package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/rms-availability/internal/settings"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage the stored remote account and enabled locations",
	}
	cmd.AddCommand(newSettingsSetCmd())
	cmd.AddCommand(newSettingsShowCmd())
	return cmd
}

func openSettingsStore(ctx context.Context) (*app, *settings.Store, error) {
	a, err := newApp(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	store, ok := a.settings.(*settings.Store)
	if !ok {
		a.Close()
		return nil, nil, errors.New("settings are read from the environment; set DATABASE_URL to store them")
	}
	return a, store, nil
}

func newSettingsSetCmd() *cobra.Command {
	var (
		subdomain string
		token     string
		locations []int64
	)

	c := &cobra.Command{
		Use:   "set",
		Short: "Store the remote subdomain, API token and enabled location ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, store, err := openSettingsStore(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			cur, err := store.Load(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("subdomain") {
				cur.Subdomain = strings.TrimSpace(subdomain)
			}
			if cmd.Flags().Changed("token") {
				cur.APIToken = strings.TrimSpace(token)
			}
			if cmd.Flags().Changed("locations") {
				cur.Locations = locations
			}
			if err := store.Save(ctx, cur); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved settings for %q (%d locations)\n", cur.Subdomain, len(cur.Locations))
			return nil
		},
	}

	c.Flags().StringVar(&subdomain, "subdomain", "", "remote account subdomain")
	c.Flags().StringVar(&token, "token", "", "remote API token")
	c.Flags().Int64SliceVar(&locations, "locations", nil, "enabled location ids, in display order")
	return c
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored settings with the token masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, store, err := openSettingsStore(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := store.Load(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subdomain:  %s\n", s.Subdomain)
			fmt.Fprintf(out, "api token:  %s\n", s.MaskedToken())
			fmt.Fprintf(out, "locations:  %v\n", s.Locations)
			if !s.UpdatedAt.IsZero() {
				fmt.Fprintf(out, "updated at: %s\n", s.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
}
