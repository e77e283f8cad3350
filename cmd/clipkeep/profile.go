package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"go.klb.dev/clipkeep/internal/profile"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect and edit per-application capture profiles",
	}
	cmd.AddCommand(newProfileShowCmd(), newProfileFormatCmd(), newProfileCaptureCmd())
	return cmd
}

func openFilter(ctx context.Context, env *storeEnv) (*profile.Filter, error) {
	return profile.NewFilter(ctx, profile.NewGormStore(env.db.Gorm()))
}

func newProfileShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [app]",
		Short: "Show every profile, or one application's formats",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.Flags().Bool("json", false, "output raw JSON")
	return withStore(cmd, func(ctx context.Context, cmd *cobra.Command, env *storeEnv, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		f, err := openFilter(ctx, env)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			p := f.GetOrCreateProfile(args[0])
			if jsonOut {
				return writeJSON(env.out, p)
			}
			printProfile(env.out, p)
			return nil
		}
		profiles := f.Profiles()
		if jsonOut {
			return writeJSON(env.out, profiles)
		}
		if len(profiles) == 0 {
			fmt.Fprintln(env.out, "No profiles yet.")
			return nil
		}
		tw := tabwriter.NewWriter(env.out, 1, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(tw, "APP\tENABLED\tFORMATS ON\n")
		for _, app := range slices.Sorted(maps.Keys(profiles)) {
			p := profiles[app]
			on := 0
			for _, v := range p.Formats {
				if v {
					on++
				}
			}
			_, _ = fmt.Fprintf(tw, "%s\t%t\t%d/%d\n", app, p.Enabled, on, len(p.Formats))
		}
		return tw.Flush()
	})
}

func printProfile(w io.Writer, p profile.Profile) {
	fmt.Fprintf(w, "%s (enabled: %t)\n\n", p.App, p.Enabled)
	tw := tabwriter.NewWriter(w, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "FORMAT\tCAPTURE\n")
	for _, name := range slices.Sorted(maps.Keys(p.Formats)) {
		_, _ = fmt.Fprintf(tw, "%s\t%t\n", name, p.Formats[name])
	}
	_ = tw.Flush()
}

func newProfileFormatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "format <app> <format> <on|off>",
		Short: "Capture or ignore one format for an application",
		Args:  cobra.ExactArgs(3),
	}
	return withStore(cmd, func(ctx context.Context, _ *cobra.Command, env *storeEnv, args []string) error {
		on, err := parseSwitch(args[2])
		if err != nil {
			return err
		}
		f, err := openFilter(ctx, env)
		if err != nil {
			return err
		}
		if err := f.SetFormat(ctx, args[0], args[1], on); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		printProfile(env.out, f.GetOrCreateProfile(args[0]))
		return nil
	})
}

func newProfileCaptureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture <app> <on|off>",
		Short: "Turn capturing for an application on or off entirely",
		Args:  cobra.ExactArgs(2),
	}
	return withStore(cmd, func(ctx context.Context, _ *cobra.Command, env *storeEnv, args []string) error {
		on, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		f, err := openFilter(ctx, env)
		if err != nil {
			return err
		}
		if err := f.SetProfileEnabled(ctx, args[0], on); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		fmt.Fprintf(env.out, "Capturing for %s: %t\n", profile.NormalizeApp(args[0]), on)
		return nil
	})
}
