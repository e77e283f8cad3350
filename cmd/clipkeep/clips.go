package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/logging"
	"go.klb.dev/clipkeep/internal/model"
	"go.klb.dev/clipkeep/internal/retention"
	"go.klb.dev/clipkeep/internal/store"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [collection]",
		Short: "List the clips of a collection (default: the active one)",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.Flags().Int("limit", 50, "maximum number of clips (0 = all)")
	cmd.Flags().Bool("trash", false, "list the trash instead")
	cmd.Flags().Bool("json", false, "output raw JSON")
	return withStore(cmd, runList)
}

func runList(ctx context.Context, cmd *cobra.Command, env *storeEnv, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	trash, _ := cmd.Flags().GetBool("trash")
	jsonOut, _ := cmd.Flags().GetBool("json")

	var clips []model.Clip
	err := env.db.Do(ctx, func(s *store.Session) error {
		var err error
		if trash {
			clips, err = s.Trash(limit)
			return err
		}
		var col model.Collection
		if len(args) == 1 {
			col, err = resolveCollection(s, args[0])
		} else {
			col, err = activeCollection(s)
		}
		if err != nil {
			return err
		}
		clips, err = s.List(col.ID, limit)
		return err
	})
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(env.out, clips)
	}
	printClips(env.out, clips)
	return nil
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id> | --hash <hex>",
		Short: "Show a clip and its stored formats",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.Flags().String("hash", "", "look the clip up by content hash instead of id")
	cmd.Flags().Bool("paste", false, "put the clip back on the system clipboard")
	cmd.Flags().Bool("json", false, "output raw JSON")
	return withStore(cmd, runShow)
}

func runShow(ctx context.Context, cmd *cobra.Command, env *storeEnv, args []string) error {
	hashArg, _ := cmd.Flags().GetString("hash")
	var (
		id   uint
		hash model.Hash
		err  error
	)
	switch {
	case hashArg != "" && len(args) > 0:
		return errors.New("give either an id or --hash, not both")
	case hashArg != "":
		if hash, err = model.ParseHash(hashArg); err != nil {
			return err
		}
	case len(args) == 1:
		if id, err = parseID(args[0]); err != nil {
			return err
		}
	default:
		return errors.New("a clip id or --hash is required")
	}
	paste, _ := cmd.Flags().GetBool("paste")
	jsonOut, _ := cmd.Flags().GetBool("json")

	var (
		c       model.Clip
		formats []store.Format
	)
	err = env.db.Do(ctx, func(s *store.Session) error {
		if hashArg != "" {
			found, ok, err := s.FindByHash(hash)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("clip with hash %s: %w", hash, store.ErrNotFound)
			}
			id = found
		}
		var err error
		if c, err = s.Clip(id); err != nil {
			return err
		}
		formats, err = s.LoadFormats(id)
		return err
	})
	if err != nil {
		return err
	}

	if paste {
		payloads := make([]model.Payload, 0, len(formats))
		for _, f := range formats {
			payloads = append(payloads, f.Payload())
		}
		backend := clip.New()
		defer backend.Close()
		if err := backend.SetContent(payloads); err != nil {
			return fmt.Errorf("paste clip %d: %w", id, err)
		}
		logging.For("cli").Debug("clip pasted", "id", id, "formats", len(payloads), "backend", backend.Name())
	}

	if jsonOut {
		descs := make([]model.ClipData, 0, len(formats))
		for _, f := range formats {
			descs = append(descs, f.ClipData)
		}
		return writeJSON(env.out, struct {
			Clip    model.Clip       `json:"clip"`
			Formats []model.ClipData `json:"formats"`
		}{c, descs})
	}
	printClip(env.out, c, formats)
	return nil
}

func printClip(w io.Writer, c model.Clip, formats []store.Format) {
	tw := tabwriter.NewWriter(w, 1, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%d\n", c.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", c.Title)
	fmt.Fprintf(tw, "Kind:\t%s\n", c.Kind)
	fmt.Fprintf(tw, "Collection:\t%d\n", c.CollectionID)
	fmt.Fprintf(tw, "Captured:\t%s (%s)\n", c.CapturedAt.Format("2006-01-02 15:04:05"), fmtAge(c.CapturedAt))
	fmt.Fprintf(tw, "Source:\t%s\n", dash(c.SourceApp))
	if c.SourceTitle != "" {
		fmt.Fprintf(tw, "Window:\t%s\n", c.SourceTitle)
	}
	fmt.Fprintf(tw, "Size:\t%s\n", fmtSize(c.Size))
	fmt.Fprintf(tw, "Hash:\t%s\n", c.Hash)
	fmt.Fprintf(tw, "Favorite:\t%t\n", c.Favorite)
	if c.Deleted && c.DeletedOn != nil {
		fmt.Fprintf(tw, "Deleted:\t%s\n", fmtAge(*c.DeletedOn))
	}
	fmt.Fprintln(tw)
	_ = tw.Flush()

	tw = tabwriter.NewWriter(w, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "CODE\tFORMAT\tSTORAGE\tSIZE\tCHECKSUM\n")
	for _, f := range formats {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", f.FormatCode, f.FormatName, f.Storage, fmtSize(f.Size), f.Checksum)
	}
	_ = tw.Flush()

	payloads := make([]model.Payload, 0, len(formats))
	for _, f := range formats {
		payloads = append(payloads, f.Payload())
	}
	if p, ok := model.Primary(payloads); ok && p.Storage == model.StorageText && utf8.Valid(p.Data) {
		fmt.Fprintf(w, "\n%s\n", p.Data)
	}
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find clips whose title or text contains the given text",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().Int("limit", 50, "maximum number of results")
	cmd.Flags().Bool("json", false, "output raw JSON")
	return withStore(cmd, func(ctx context.Context, cmd *cobra.Command, env *storeEnv, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOut, _ := cmd.Flags().GetBool("json")
		clips, err := env.db.Search(ctx, args[0], limit)
		if err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(env.out, clips)
		}
		printClips(env.out, clips)
		return nil
	})
}

func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Rename a clip or change its favorite flag",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().String("title", "", "new title; automatic retitling stops for this clip")
	cmd.Flags().Bool("favorite", false, "mark or unmark the clip as a favorite")
	return withStore(cmd, func(ctx context.Context, cmd *cobra.Command, env *storeEnv, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		titleSet := cmd.Flags().Changed("title")
		favSet := cmd.Flags().Changed("favorite")
		if !titleSet && !favSet {
			return errors.New("nothing to change: pass --title or --favorite")
		}
		title, _ := cmd.Flags().GetString("title")
		fav, _ := cmd.Flags().GetBool("favorite")
		return env.db.Do(ctx, func(s *store.Session) error {
			if titleSet {
				if err := s.Rename(id, title); err != nil {
					return err
				}
			}
			if favSet {
				return s.SetFavorite(id, fav)
			}
			return nil
		})
	})
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Move clips to the trash",
		Args:  cobra.MinimumNArgs(1),
	}
	return withStore(cmd, func(ctx context.Context, _ *cobra.Command, env *storeEnv, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		if err := env.db.Do(ctx, func(s *store.Session) error { return s.SoftDelete(ids...) }); err != nil {
			return err
		}
		fmt.Fprintf(env.out, "Moved %d clip(s) to the trash.\n", len(ids))
		return nil
	})
}

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <id>...",
		Short: "Bring clips back from the trash",
		Args:  cobra.MinimumNArgs(1),
	}
	return withStore(cmd, func(ctx context.Context, _ *cobra.Command, env *storeEnv, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return env.db.Do(ctx, func(s *store.Session) error {
			for _, id := range ids {
				if err := s.Restore(id); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <id>...",
		Short: "Delete clips and every stored format permanently",
		Args:  cobra.MinimumNArgs(1),
	}
	return withStore(cmd, func(ctx context.Context, _ *cobra.Command, env *storeEnv, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		err = env.db.Do(ctx, func(s *store.Session) error {
			for _, id := range ids {
				if err := s.DeleteAll(id); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(env.out, "Purged %d clip(s).\n", len(ids))
		return nil
	})
}

func newEmptyTrashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "empty-trash",
		Short: "Permanently delete every clip in the trash",
		Args:  cobra.NoArgs,
	}
	return withStore(cmd, func(ctx context.Context, _ *cobra.Command, env *storeEnv, _ []string) error {
		var n int
		err := env.db.Do(ctx, func(s *store.Session) error {
			var err error
			n, err = s.EmptyTrash()
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(env.out, "Purged %d clip(s).\n", n)
		return nil
	})
}

func newMoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <id> <collection>",
		Short: "Move a clip to another collection, possibly in another database",
		Long: `Moves a clip into a collection and applies the target's retention limits.

With --to-db the clip is copied into a collection of another database and,
unless --copy is given, deleted from the source afterwards.`,
		Args: cobra.ExactArgs(2),
	}
	cmd.Flags().String("to-db", "", "key of the destination database")
	cmd.Flags().Bool("copy", false, "keep the source clip when moving across databases")
	return withStore(cmd, runMove)
}

func runMove(ctx context.Context, cmd *cobra.Command, env *storeEnv, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	toDB, _ := cmd.Flags().GetString("to-db")
	keep, _ := cmd.Flags().GetBool("copy")

	dst := env.db
	if toDB != "" && toDB != env.db.Key {
		if dst, err = env.reg.Open(ctx, toDB); err != nil {
			return err
		}
	}

	var target model.Collection
	err = dst.Do(ctx, func(s *store.Session) error {
		var err error
		target, err = resolveCollection(s, args[1])
		return err
	})
	if err != nil {
		return err
	}

	enforcer := retention.New(nil)
	if dst == env.db {
		evicted, err := enforcer.Move(ctx, env.db, id, target.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.out, "Moved clip %d to %q (%d evicted).\n", id, target.Title, evicted)
		return nil
	}

	res, err := enforcer.Transfer(ctx, env.db, dst, id, target.ID, !keep)
	if err != nil {
		return err
	}
	verb := "Moved"
	if keep {
		verb = "Copied"
	}
	if res.Duplicate {
		fmt.Fprintf(env.out, "%s clip %d: already in %q as clip %d.\n", verb, id, dst.Key, res.ClipID)
		return nil
	}
	fmt.Fprintf(env.out, "%s clip %d to %q/%q as clip %d (%d evicted).\n", verb, id, dst.Key, target.Title, res.ClipID, res.Evicted)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
