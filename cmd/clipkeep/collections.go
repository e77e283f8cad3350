package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"go.klb.dev/clipkeep/internal/model"
	"go.klb.dev/clipkeep/internal/store"
)

func newCollectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"col"},
		Short:   "Manage collections",
	}
	cmd.AddCommand(
		newCollectionsLsCmd(),
		newCollectionsAddCmd(),
		newCollectionsActivateCmd(),
		newCollectionsRetentionCmd(),
		newCollectionsReadOnlyCmd(),
	)
	return cmd
}

func newCollectionsLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List collections with their clip counts and limits",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().Bool("json", false, "output raw JSON")
	return withStore(cmd, func(ctx context.Context, cmd *cobra.Command, env *storeEnv, _ []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		var (
			cols   []model.Collection
			counts = map[uint]int64{}
		)
		err := env.db.Do(ctx, func(s *store.Session) error {
			var err error
			if cols, err = s.Collections(); err != nil {
				return err
			}
			for _, c := range cols {
				if c.Kind == model.CollectionVirtual || c.Kind == model.CollectionTrashcan {
					continue
				}
				if counts[c.ID], err = s.CountClips(c.ID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(env.out, cols)
		}
		printCollections(env.out, cols, counts)
		return nil
	})
}

func printCollections(w io.Writer, cols []model.Collection, counts map[uint]int64) {
	byID := make(map[uint]string, len(cols))
	for _, c := range cols {
		byID[c.ID] = c.Title
	}
	tw := tabwriter.NewWriter(w, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "\tID\tTITLE\tKIND\tCLIPS\tMAX CLIPS\tMAX BYTES\tMAX AGE\tOVERFLOW\tFLAGS\n")
	_, _ = fmt.Fprintf(tw, "\t--\t-----\t----\t-----\t---------\t---------\t-------\t--------\t-----\n")
	for _, c := range cols {
		marker := ""
		if c.Active {
			marker = "*"
		}
		clips := "-"
		if n, ok := counts[c.ID]; ok {
			clips = strconv.FormatInt(n, 10)
		}
		overflow := "-"
		if c.OverflowID != nil {
			overflow = byID[*c.OverflowID]
		}
		flags := ""
		if c.AcceptsNewClips {
			flags += "accepts "
		}
		if c.ReadOnly {
			flags += "read-only"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			marker, c.ID, c.Title, c.Kind, clips,
			orDash(int64(c.MaxClips), strconv.Itoa(c.MaxClips)),
			orDash(c.MaxBytes, fmtSize(c.MaxBytes)),
			orDash(int64(c.MaxAgeDays), fmt.Sprintf("%dd", c.MaxAgeDays)),
			overflow, dash(flags),
		)
	}
	_ = tw.Flush()
}

func orDash(n int64, s string) string {
	if n <= 0 {
		return "-"
	}
	return s
}

func newCollectionsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a collection",
		Long: `Creates a collection. Virtual collections are defined by a read-only SQL
query over the clips table; {{today}} and {{cutoff}} (today minus
--max-age-days) are replaced with quoted dates before the query runs.`,
		Args: cobra.ExactArgs(1),
	}
	f := cmd.Flags()
	f.String("kind", string(model.CollectionNormal), "normal|folder|overflow|virtual")
	f.String("query", "", "query template for a virtual collection")
	f.String("parent", "", "parent folder (id or title)")
	f.Bool("accepts", false, "let the collection receive new captures")
	f.Int("max-age-days", 0, "age window used by {{cutoff}} and by retention")
	return withStore(cmd, func(ctx context.Context, cmd *cobra.Command, env *storeEnv, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		query, _ := cmd.Flags().GetString("query")
		parent, _ := cmd.Flags().GetString("parent")
		accepts, _ := cmd.Flags().GetBool("accepts")
		maxAge, _ := cmd.Flags().GetInt("max-age-days")

		c := model.Collection{
			Title:           args[0],
			Kind:            model.CollectionKind(kind),
			AcceptsNewClips: accepts,
			QueryTemplate:   query,
			MaxAgeDays:      maxAge,
		}
		err := env.db.Do(ctx, func(s *store.Session) error {
			if parent != "" {
				p, err := resolveCollection(s, parent)
				if err != nil {
					return err
				}
				c.ParentID = &p.ID
			}
			return s.CreateCollection(&c)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(env.out, "Created collection %d %q.\n", c.ID, c.Title)
		return nil
	})
}

func newCollectionsActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate <collection>",
		Short: "Make a collection the destination for new captures",
		Args:  cobra.ExactArgs(1),
	}
	return withStore(cmd, func(ctx context.Context, _ *cobra.Command, env *storeEnv, args []string) error {
		return env.db.Do(ctx, func(s *store.Session) error {
			c, err := resolveCollection(s, args[0])
			if err != nil {
				return err
			}
			return s.SetActive(c.ID)
		})
	})
}

func newCollectionsRetentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention <collection>",
		Short: "Set a collection's retention limits",
		Long: `Replaces the retention limits of a collection. A limit of 0 is unlimited.
Clips over a limit go to the overflow collection while it has room and to
the trash otherwise. Pass --overflow none to clear the overflow target.`,
		Args: cobra.ExactArgs(1),
	}
	f := cmd.Flags()
	f.Int("max-clips", 0, "maximum number of clips")
	f.Int64("max-bytes", 0, "maximum total payload size in bytes")
	f.Int("max-age-days", 0, "maximum clip age in days")
	f.String("overflow", "", "overflow collection (id, title or none); unchanged if omitted")
	return withStore(cmd, func(ctx context.Context, cmd *cobra.Command, env *storeEnv, args []string) error {
		r := store.Retention{}
		r.MaxClips, _ = cmd.Flags().GetInt("max-clips")
		r.MaxBytes, _ = cmd.Flags().GetInt64("max-bytes")
		r.MaxAgeDays, _ = cmd.Flags().GetInt("max-age-days")
		overflowRef, _ := cmd.Flags().GetString("overflow")

		return env.db.Do(ctx, func(s *store.Session) error {
			c, err := resolveCollection(s, args[0])
			if err != nil {
				return err
			}
			overflow := c.OverflowID
			switch {
			case !cmd.Flags().Changed("overflow"):
			case overflowRef == "none" || overflowRef == "":
				overflow = nil
			default:
				o, err := resolveCollection(s, overflowRef)
				if err != nil {
					return err
				}
				overflow = &o.ID
			}
			return s.SetRetention(c.ID, r, overflow)
		})
	})
}

func newCollectionsReadOnlyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readonly <collection> <on|off>",
		Short: "Freeze or unfreeze a collection",
		Args:  cobra.ExactArgs(2),
	}
	return withStore(cmd, func(ctx context.Context, _ *cobra.Command, env *storeEnv, args []string) error {
		on, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		return env.db.Do(ctx, func(s *store.Session) error {
			c, err := resolveCollection(s, args[0])
			if err != nil {
				return err
			}
			return s.SetCollectionReadOnly(c.ID, on)
		})
	})
}

// parseSwitch accepts on/off as well as anything cast treats as a bool.
func parseSwitch(s string) (bool, error) {
	switch s {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := cast.ToBoolE(s)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
	return b, nil
}
