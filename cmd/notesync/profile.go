package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/notesync/notesync/repo"
)

// Flags of "profile add".
var (
	addProvider     string
	addLocalPath    string
	addAutoSync     int
	addAutosave     int
	addTimeout      int
	addRemoteURL    string
	addBranch       string
	addPAT          string
	addAuthMethod   string
	addSSHKey       string
	addSSHPass      string
	addAuthorName   string
	addAuthorEmail  string
	addBucket       string
	addRegion       string
	addPrefix       string
	addEndpoint     string
	addPathStyle    bool
	addAccessKeyID  string
	addSecretKey    string
	addSessionToken string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage sync profiles",
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		profiles, active, err := a.store.List()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), profiles)
		}
		if len(profiles) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no profiles; create one with 'notesync profile add'")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, p := range profiles {
			marker := " "
			if p.ID == active {
				marker = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, p.Name, p.Settings.Provider, p.Settings.LocalPath(), p.ID)
		}
		return tw.Flush()
	},
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a profile",
	Long: `Add creates a profile. The first profile becomes active.

  notesync profile add personal --provider git --path ~/notes \
      --remote-url https://github.com/me/notes.git --pat $TOKEN --auto-sync 60
  notesync profile add work --provider s3 --path ~/work-notes \
      --bucket team-notes --prefix alice --region eu-west-1
  notesync profile add scratch --provider local --path ~/scratch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := settingsFromFlags()
		if err != nil {
			return err
		}
		a, err := setup()
		if err != nil {
			return err
		}
		p, err := a.store.Create(args[0], settings)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), p)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created profile %s (%s)\n", p.Name, p.ID)
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name|id>",
	Short: "Make a profile active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		p, err := a.store.Find(args[0])
		if err != nil {
			return err
		}
		if _, err := a.store.SetActive(p.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active profile: %s\n", p.Name)
		return nil
	},
}

var profileRmCmd = &cobra.Command{
	Use:     "rm <name|id>",
	Aliases: []string{"remove"},
	Short:   "Delete a profile; the working copy is left on disk",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		p, err := a.store.Find(args[0])
		if err != nil {
			return err
		}
		if err := a.store.Delete(p.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted profile %s\n", p.Name)
		return nil
	},
}

func init() {
	f := profileAddCmd.Flags()
	f.StringVar(&addProvider, "provider", "local", "provider (git, s3, local)")
	f.StringVar(&addLocalPath, "path", "", "working copy directory")
	f.IntVar(&addAutoSync, "auto-sync", 0, "auto-sync interval in seconds (0 disables)")
	f.IntVar(&addAutosave, "autosave", 0, "editor autosave interval in seconds (0 disables)")
	f.IntVar(&addTimeout, "timeout", 0, "network timeout in seconds (default 30)")

	f.StringVar(&addRemoteURL, "remote-url", "", "git: remote URL")
	f.StringVar(&addBranch, "branch", "", "git: tracked branch (default main)")
	f.StringVar(&addPAT, "pat", "", "git: personal access token, or an env://, file:// or awssm:// reference")
	f.StringVar(&addAuthMethod, "auth-method", "", "git: none, pat or ssh (default pat when --pat is set)")
	f.StringVar(&addSSHKey, "ssh-key", "", "git: private key file for ssh auth")
	f.StringVar(&addSSHPass, "ssh-passphrase", "", "git: passphrase of the private key")
	f.StringVar(&addAuthorName, "author-name", "", "git: commit author name")
	f.StringVar(&addAuthorEmail, "author-email", "", "git: commit author email")

	f.StringVar(&addBucket, "bucket", "", "s3: bucket")
	f.StringVar(&addRegion, "region", "", "s3: region")
	f.StringVar(&addPrefix, "prefix", "", "s3: key prefix")
	f.StringVar(&addEndpoint, "endpoint", "", "s3: custom endpoint URL")
	f.BoolVar(&addPathStyle, "path-style", false, "s3: use path-style addressing")
	f.StringVar(&addAccessKeyID, "access-key-id", "", "s3: access key ID (default credential chain when empty)")
	f.StringVar(&addSecretKey, "secret-access-key", "", "s3: secret access key, or a credential reference")
	f.StringVar(&addSessionToken, "session-token", "", "s3: session token")

	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileUseCmd)
	profileCmd.AddCommand(profileRmCmd)
	rootCmd.AddCommand(profileCmd)
}

func settingsFromFlags() (repo.Settings, error) {
	kind, err := repo.ParseKind(addProvider)
	if err != nil {
		return repo.Settings{}, err
	}

	s := repo.Settings{
		Provider:   kind,
		AutoSync:   repo.Interval{Enabled: addAutoSync > 0, IntervalSec: addAutoSync},
		Autosave:   repo.Interval{Enabled: addAutosave > 0, IntervalSec: addAutosave},
		TimeoutSec: addTimeout,
	}

	switch kind {
	case repo.KindGit:
		s.Git = &repo.GitSettings{
			RemoteURL:        addRemoteURL,
			Branch:           addBranch,
			LocalPath:        addLocalPath,
			PAT:              addPAT,
			AuthMethod:       repo.AuthMethod(addAuthMethod),
			SSHKeyPath:       addSSHKey,
			SSHKeyPassphrase: addSSHPass,
			AuthorName:       addAuthorName,
			AuthorEmail:      addAuthorEmail,
		}
	case repo.KindS3:
		s.S3 = &repo.S3Settings{
			Bucket:          addBucket,
			Region:          addRegion,
			Prefix:          addPrefix,
			LocalPath:       addLocalPath,
			AccessKeyID:     addAccessKeyID,
			SecretAccessKey: addSecretKey,
			SessionToken:    addSessionToken,
			Endpoint:        addEndpoint,
			ForcePathStyle:  addPathStyle,
		}
	case repo.KindLocal:
		s.Local = &repo.LocalSettings{LocalPath: addLocalPath}
	}
	return s, nil
}
