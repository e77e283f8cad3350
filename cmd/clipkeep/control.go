package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"go.klb.dev/clipkeep/internal/coordinator"
	"go.klb.dev/clipkeep/internal/events"
	"go.klb.dev/clipkeep/internal/ipc"
	"go.klb.dev/clipkeep/internal/message"
	"go.klb.dev/clipkeep/internal/retention"
	"go.klb.dev/clipkeep/internal/store"
	"go.klb.dev/clipkeep/internal/wire"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's state and counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			resp, err := daemonRequest(&message.Message{Type: message.TypeStatus})
			if err != nil {
				return err
			}
			if resp.Status == nil {
				return errors.New("daemon sent an empty status")
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), resp.Status)
			}
			printStatus(cmd.OutOrStdout(), *resp.Status)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output raw JSON")
	return cmd
}

func printStatus(out io.Writer, st message.Status) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	state := st.State
	if st.Paused {
		state += " (paused)"
	}
	fmt.Fprintf(w, "Version:\t%s\n", st.Version)
	fmt.Fprintf(w, "PID:\t%d\n", st.PID)
	fmt.Fprintf(w, "Started:\t%s (%s)\n", st.StartedAt.Format(time.RFC3339), fmtAge(st.StartedAt))
	fmt.Fprintf(w, "Transport:\tipc (%s)\n", ipc.SocketPath())
	fmt.Fprintf(w, "Backend:\t%s\n", st.Backend)
	fmt.Fprintf(w, "Database:\t%s (%s)\n", st.Database, st.DataDir)
	fmt.Fprintf(w, "State:\t%s\n", state)
	fmt.Fprintf(w, "Profiles:\t%t\n", st.Profiles)
	fmt.Fprintf(w, "Exclusions:\t%d\n", st.Exclusions)
	fmt.Fprintf(w, "Queue:\t%d/%d (%d dropped)\n", st.Queued, st.Capacity, st.Dropped)
	if e := st.LastCapture; e != nil {
		fmt.Fprintf(w, "Last capture:\t#%d %q from %s (%s)\n", e.ClipID, e.Title, dash(e.Source), fmtAge(e.At))
	}
	fmt.Fprintln(w)
	_ = w.Flush()

	tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "CAPTURED\tPROCESSED\tSTORED\tDUPLICATE\tEXCLUDED\tBOUNCED\tFAILED\n")
	_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		st.Captures, st.Processed, st.Stored, st.Duplicates, st.Excluded, st.Bounced, st.Failed)
	_ = tw.Flush()
}

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Stop recording clipboard changes until resumed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := daemonRequest(&message.Message{Type: message.TypePause}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Capture paused.")
			return nil
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume recording clipboard changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := daemonRequest(&message.Message{Type: message.TypeResume}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Capture resumed.")
			return nil
		},
	}
}

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream pipeline events from the running daemon",
		Long: `Prints capture, duplicate, relocation, bounce and drop events as the
daemon emits them. Restrict the stream with --topic, e.g.
--topic clip.captured --topic capture.dropped.`,
		Args: cobra.NoArgs,
		RunE: runTail,
	}
	cmd.Flags().StringSlice("topic", nil, "event topics to follow (default: all)")
	cmd.Flags().Bool("json", false, "print one JSON object per event")
	return cmd
}

func runTail(cmd *cobra.Command, _ []string) error {
	topics, _ := cmd.Flags().GetStringSlice("topic")
	jsonOut, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	conn, err := ipc.Dial(daemonTimeout)
	if err != nil {
		return err
	}
	wc := wire.New(conn)
	defer wc.Close()

	ctx := cmd.Context()
	go func() {
		<-ctx.Done()
		_ = wc.Close()
	}()

	if err := wc.WriteMsg(&message.Message{Type: message.TypeSubscribe, Topics: topics}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for {
		msg, err := wc.ReadMsg()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}
		if err := msg.Err(); err != nil {
			return err
		}
		if msg.Type != message.TypeEvent || msg.Event == nil {
			continue
		}
		if jsonOut {
			if err := writeJSONLine(out, msg.Event); err != nil {
				return err
			}
			continue
		}
		printEvent(out, *msg.Event)
	}
}

func printEvent(w io.Writer, e events.Event) {
	line := fmt.Sprintf("%s  %-17s", e.At.Format("15:04:05.000"), e.Topic)
	if e.ClipID != 0 {
		line += fmt.Sprintf("  #%d", e.ClipID)
	}
	if e.Title != "" {
		line += fmt.Sprintf("  %q", e.Title)
	}
	if e.Source != "" {
		line += "  from " + e.Source
	}
	if e.Count != 0 {
		line += fmt.Sprintf("  count=%d", e.Count)
	}
	if e.Detail != "" {
		line += "  " + e.Detail
	}
	fmt.Fprintln(w, line)
}

func writeJSONLine(w io.Writer, e *events.Event) error {
	m := &message.Message{Type: message.TypeEvent, Event: e}
	raw, err := m.Encode()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", raw)
	return err
}

func newEnforceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enforce",
		Short: "Apply every collection's retention limits now",
		Long: `Runs retention over every collection. When a daemon is running the
request goes through it; otherwise the database is opened directly.`,
		Args: cobra.NoArgs,
	}
	cmd = withStore(cmd, func(ctx context.Context, _ *cobra.Command, env *storeEnv, _ []string) error {
		n, err := retention.New(nil).EnforceAll(ctx, env.db)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.out, "Relocated %d clip(s).\n", n)
		return nil
	})

	local := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		explicit := cmd.Flags().Changed("db") || cmd.Flags().Changed("data-dir")
		if explicit || !ipc.IsRunning() {
			return local(cmd, args)
		}
		resp, err := daemonRequest(&message.Message{Type: message.TypeEnforce})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Relocated %d clip(s).\n", resp.Count)
		return nil
	}
	return cmd
}

func newExcludeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exclude",
		Short: "Manage application exclusions",
	}
	cmd.AddCommand(newExcludeLsCmd(), newExcludeAddCmd())
	return cmd
}

func newExcludeLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List configured and stored exclusion rules",
		Args:  cobra.NoArgs,
	}
	return withStore(cmd, func(ctx context.Context, _ *cobra.Command, env *storeEnv, _ []string) error {
		rules := append([]coordinator.Rule(nil), env.cfg.Exclusions...)
		err := env.db.Do(ctx, func(s *store.Session) error {
			rows, err := s.ExclusionFilters()
			rules = append(rules, coordinator.RulesFromFilters(rows)...)
			return err
		})
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Fprintln(env.out, "No exclusions.")
			return nil
		}
		for _, r := range rules {
			fmt.Fprintln(env.out, r.String())
		}
		return nil
	})
}

func newExcludeAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Stop capturing from a process or window title pattern",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String("process", "", "process name, e.g. keepass.exe")
	cmd.Flags().String("title", "", "window title glob, e.g. \"*password*\"")
	return withStore(cmd, func(ctx context.Context, cmd *cobra.Command, env *storeEnv, _ []string) error {
		process, _ := cmd.Flags().GetString("process")
		title, _ := cmd.Flags().GetString("title")
		if _, err := coordinator.NewExclusionList([]coordinator.Rule{{Process: process, Title: title}}); err != nil {
			return err
		}
		err := env.db.Do(ctx, func(s *store.Session) error {
			_, err := s.AddExclusionFilter(process, title)
			return err
		})
		if err != nil {
			return err
		}
		if ipc.IsRunning() {
			if _, err := daemonRequest(&message.Message{Type: message.TypeReload}); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: daemon did not reload exclusions: %v\n", err)
			}
		}
		fmt.Fprintln(env.out, "Exclusion added.")
		return nil
	})
}
