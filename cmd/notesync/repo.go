package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/notesync/notesync/repo"
	"github.com/notesync/notesync/session"
)

var historyLimit int

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the working copy, cloning or downloading it if needed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := setupSignalHandler()
		defer cancel()

		a, err := setup()
		if err != nil {
			return err
		}
		m, _, res, err := a.open(ctx, false)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}

		out := cmd.OutOrStdout()
		files := 0
		for _, e := range res.Tree {
			if !e.IsDir {
				files++
			}
		}
		fmt.Fprintf(out, "%s (%d files)\n", res.LocalPath, files)
		return printStatus(out, res.Status)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync status without contacting the remote",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(false, func(ctx context.Context, s *session.Session) error {
			st, err := s.Status(ctx)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		})
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Refresh the remote state without changing local files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(false, func(ctx context.Context, s *session.Session) error {
			st, err := s.Fetch(ctx)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		})
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch and apply remote changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(false, func(ctx context.Context, s *session.Session) error {
			if _, err := s.Fetch(ctx); err != nil {
				return err
			}
			if err := s.Pull(ctx); err != nil {
				return err
			}
			return printCurrentStatus(ctx, cmd.OutOrStdout(), s)
		})
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload committed local changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(false, func(ctx context.Context, s *session.Session) error {
			if err := s.Push(ctx); err != nil {
				return err
			}
			return printCurrentStatus(ctx, cmd.OutOrStdout(), s)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run auto-sync and report status changes until interrupted",
	Long: `Watch starts the auto-sync scheduler of the active profile and prints the
status after every tick and every change made to the working copy, until it
receives SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(true, func(ctx context.Context, s *session.Session) error {
			out := cmd.OutOrStdout()
			updates := make(chan repo.Status, 16)
			unsubscribe := s.Subscribe(func(st repo.Status) {
				select {
				case updates <- st:
				default:
				}
			})
			defer unsubscribe()

			if err := s.StartAutoPush(ctx); err != nil {
				return err
			}
			if !s.AutoPushDetails().Running {
				fmt.Fprintln(cmd.ErrOrStderr(), "auto-sync is disabled for this profile; watching local changes only")
			}
			if err := printCurrentStatus(ctx, out, s); err != nil {
				return err
			}

			for {
				select {
				case <-ctx.Done():
					s.StopAutoPush()
					d := s.AutoPushDetails()
					if d.LastError != "" {
						fmt.Fprintf(cmd.ErrOrStderr(), "last auto-sync error: %s\n", d.LastError)
					}
					return nil
				case st := <-updates:
					if err := printStatus(out, st); err != nil {
						return err
					}
				}
			}
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <path>",
	Short: "List earlier revisions of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(false, func(ctx context.Context, s *session.Session) error {
			revs, err := s.History(ctx, args[0], historyLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, revs)
			}
			for _, r := range revs {
				fmt.Fprintf(out, "%-12.12s  %s  %8d  %s\n", r.ID, r.When.Format("2006-01-02 15:04"), r.Size, r.Message)
			}
			return nil
		})
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of revisions (0 for all)")

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
}

func printCurrentStatus(ctx context.Context, w io.Writer, s *session.Session) error {
	st, err := s.Status(ctx)
	if err != nil {
		return err
	}
	return printStatus(w, st)
}

func printStatus(w io.Writer, st repo.Status) error {
	if jsonOutput {
		return printJSON(w, st)
	}

	line := string(st.Provider)
	if st.Branch != "" {
		line += " " + st.Branch
	}
	line += fmt.Sprintf(": ahead %d, behind %d, pending %d", st.Ahead, st.Behind, st.PendingPushCount)
	if st.HasUncommitted {
		line += ", uncommitted changes"
	}
	if st.NeedsPull {
		line += ", pull needed"
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
