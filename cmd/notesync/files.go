package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/notesync/notesync/session"
	"github.com/notesync/notesync/workflow"
)

var (
	saveFrom     string
	saveSync     bool
	saveAutosave bool
	commitMsg    string
)

var saveCmd = &cobra.Command{
	Use:   "save <path>",
	Short: "Write a file in the working copy",
	Long: `Save writes a file into the working copy, reading the content from --from or
from stdin.

With --sync the save runs the full workflow: fetch, pull when behind, write,
commit and push. Sync problems are reported but never lose the write; only a
failed local write makes the command fail.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readInput(cmd.InOrStdin())
		if err != nil {
			return err
		}

		return withSession(false, func(ctx context.Context, s *session.Session) error {
			if !saveSync {
				return s.Save(ctx, args[0], content)
			}

			res, err := s.SaveWithWorkflow(ctx, args[0], content, saveAutosave)
			if err != nil {
				return err
			}
			return printSaveResult(cmd.OutOrStdout(), res)
		})
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file from the working copy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(false, func(ctx context.Context, s *session.Session) error {
			content, err := s.Read(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), content)
			return err
		})
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Record every local change without pushing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(false, func(ctx context.Context, s *session.Session) error {
			if err := s.CommitAll(ctx, commitMsg); err != nil {
				return err
			}
			return printCurrentStatus(ctx, cmd.OutOrStdout(), s)
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Commit every local change and push everything pending",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(false, func(ctx context.Context, s *session.Session) error {
			res, err := s.CommitAndPushAll(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		})
	},
}

func init() {
	saveCmd.Flags().StringVarP(&saveFrom, "from", "f", "", "read content from this file instead of stdin")
	saveCmd.Flags().BoolVar(&saveSync, "sync", false, "fetch, pull, commit and push around the write")
	saveCmd.Flags().BoolVar(&saveAutosave, "autosave", false, "use the autosave commit message")
	commitCmd.Flags().StringVarP(&commitMsg, "message", "m", "Update notes", "commit message")

	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(syncCmd)
}

func readInput(stdin io.Reader) ([]byte, error) {
	if saveFrom != "" {
		return os.ReadFile(saveFrom)
	}
	return io.ReadAll(stdin)
}

func printSaveResult(w io.Writer, res workflow.Result) error {
	if jsonOutput {
		return printJSON(w, res)
	}

	switch {
	case res.ConflictDetected:
		fmt.Fprintln(w, "saved locally; remote has conflicting changes, not synced")
	case res.PullFailed && res.PushFailed:
		fmt.Fprintln(w, "saved locally; could not reach the remote")
	case res.PullFailed:
		fmt.Fprintln(w, "saved and pushed; fetching remote changes failed")
	case res.PushFailed:
		fmt.Fprintln(w, "saved locally; push failed, will retry on the next save")
	default:
		fmt.Fprintln(w, "saved and synced")
	}
	return nil
}
