// clipkeep: clipboard history daemon and CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go.klb.dev/clipkeep/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clipkeep",
		Short: "Clipboard history",
		Long: `clipkeep records every clipboard change into a local SQLite history.

Run "clipkeep watch" to start the capture daemon. The other commands read and
edit the history directly, or talk to the running daemon over its local
socket (status, tail, pause, resume).

Config file search order (first found wins):
  /etc/clipkeep/clipkeep.toml
  $HOME/.config/clipkeep/clipkeep.toml
  path supplied via --config

All settings can also be given as CLIPKEEP_<KEY> env vars.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newWatchCmd(),
		newListCmd(),
		newShowCmd(),
		newSearchCmd(),
		newSetCmd(),
		newDeleteCmd(),
		newRestoreCmd(),
		newPurgeCmd(),
		newEmptyTrashCmd(),
		newMoveCmd(),
		newCollectionsCmd(),
		newProfileCmd(),
		newEnforceCmd(),
		newExcludeCmd(),
		newStatusCmd(),
		newTailCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clipkeep %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
// fallback is the level used when none was requested.
func resolveLogging(formatStr, levelStr, fallback string) {
	level := logging.ParseLevel(fallback)
	if levelStr != "" {
		level = logging.ParseLevel(levelStr)
	}
	logging.Setup(logging.ParseFormat(formatStr), level)
}
