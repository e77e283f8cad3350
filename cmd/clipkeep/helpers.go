package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipkeep/internal/config"
	"go.klb.dev/clipkeep/internal/ipc"
	"go.klb.dev/clipkeep/internal/message"
	"go.klb.dev/clipkeep/internal/model"
	"go.klb.dev/clipkeep/internal/store"
	"go.klb.dev/clipkeep/internal/wire"
)

const daemonTimeout = 5 * time.Second

// storeEnv is what a history command runs against.
type storeEnv struct {
	cfg config.Config
	reg *store.Registry
	db  *store.Database
	out io.Writer
}

type storeRunFunc func(ctx context.Context, cmd *cobra.Command, env *storeEnv, args []string) error

// withStore turns cmd into a command that opens the configured history
// database, runs fn and closes everything again.
func withStore(cmd *cobra.Command, fn storeRunFunc) *cobra.Command {
	v := viper.New()
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) }
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		setupCLILogging(v)
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		reg := store.NewRegistry(cfg.RegistryOptions())
		defer reg.Close()
		d, err := reg.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		return fn(ctx, cmd, &storeEnv{cfg: cfg, reg: reg, db: d, out: cmd.OutOrStdout()}, args)
	}
	addStoreFlags(cmd)
	addConfigFlag(cmd)
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: warn)")
	return cmd
}

// parseIDs converts clip or collection ids given on the command line.
func parseIDs(args []string) ([]uint, error) {
	ids := make([]uint, 0, len(args))
	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseID(s string) (uint, error) {
	id, err := cast.ToUintE(strings.TrimSpace(s))
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// resolveCollection accepts a collection id or a case-insensitive title.
func resolveCollection(s *store.Session, ref string) (model.Collection, error) {
	if id, err := parseID(ref); err == nil {
		return s.Collection(id)
	}
	return s.CollectionByTitle(ref)
}

// activeCollection returns the collection marked active.
func activeCollection(s *store.Session) (model.Collection, error) {
	cols, err := s.Collections()
	if err != nil {
		return model.Collection{}, err
	}
	for _, c := range cols {
		if c.Active {
			return c, nil
		}
	}
	return model.Collection{}, fmt.Errorf("no active collection: %w", store.ErrNotFound)
}

func printClips(w io.Writer, clips []model.Clip) {
	if len(clips) == 0 {
		fmt.Fprintln(w, "No clips.")
		return
	}
	tw := tabwriter.NewWriter(w, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID\tKIND\tSIZE\tCAPTURED\tSOURCE\tTITLE\n")
	_, _ = fmt.Fprintf(tw, "--\t----\t----\t--------\t------\t-----\n")
	for _, c := range clips {
		title := c.Title
		if c.Favorite {
			title = "* " + title
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Kind, fmtSize(c.Size), fmtAge(c.CapturedAt), dash(c.SourceApp), title)
	}
	_ = tw.Flush()
}

func fmtAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	if age < 24*time.Hour {
		return t.Format("15:04:05")
	}
	return t.Format("2006-01-02")
}

func fmtSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// daemonRequest sends one message to the running daemon and returns its
// reply. ERROR replies are returned as errors.
func daemonRequest(req *message.Message) (*message.Message, error) {
	conn, err := ipc.Dial(daemonTimeout)
	if err != nil {
		return nil, err
	}
	wc := wire.New(conn)
	defer wc.Close()

	if err := wc.WriteMsg(req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Type, err)
	}
	wc.SetReadDeadline(time.Minute)
	resp, err := wc.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("read reply to %s: %w", req.Type, err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}
