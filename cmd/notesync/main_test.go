package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/config"
	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/repo"
	"github.com/notesync/notesync/workflow"
)

func TestMain(m *testing.M) {
	logOutput = io.Discard
	os.Exit(m.Run())
}

// resetFlags restores flag variables, which cobra keeps between executions.
func resetFlags() {
	cfgFile, logLevel, logFormat, profileRef, jsonOutput, traceSpans = "", "", "", "", false, false
	saveFrom, saveSync, saveAutosave, commitMsg = "", false, false, "Update notes"
	historyLimit = 20
	addProvider, addLocalPath = "local", ""
	addAutoSync, addAutosave, addTimeout = 0, 0, 0
	addRemoteURL, addBranch, addPAT, addAuthMethod = "", "", "", ""
	addSSHKey, addSSHPass, addAuthorName, addAuthorEmail = "", "", "", ""
	addBucket, addRegion, addPrefix, addEndpoint = "", "", "", ""
	addPathStyle = false
	addAccessKeyID, addSecretKey, addSessionToken = "", "", ""
}

type cli struct {
	t      *testing.T
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "notesync.yaml")
	content := "profiles_path: " + filepath.Join(dir, "profiles.yaml") + "\nwatch:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(cfg, []byte(content), 0o600))
	return &cli{t: t, config: cfg}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	resetFlags()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--config", c.config}, args...))

	err := rootCmd.Execute()
	return out.String(), err
}

func (c *cli) mustRun(stdin string, args ...string) string {
	c.t.Helper()
	out, err := c.run(stdin, args...)
	require.NoError(c.t, err, "notesync %s", strings.Join(args, " "))
	return out
}

func TestSetupLogger(t *testing.T) {
	for _, tc := range []config.LogConfig{
		{Level: "debug", Format: "text"},
		{Level: "info", Format: "json"},
		{Level: "warn", Format: "text"},
		{Level: "error", Format: "text"},
		{Level: "unknown", Format: "text"},
	} {
		t.Run(tc.Level+"/"+tc.Format, func(t *testing.T) {
			assert.NotNil(t, setupLogger(tc))
		})
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "notesync dev")
}

func TestConfigCmdPrintsTemplate(t *testing.T) {
	c := newCLI(t)
	assert.Equal(t, config.DefaultTemplate(), c.mustRun("", "config"))
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	cancel()
	<-ctx.Done()
	assert.Error(t, ctx.Err())
}

func TestLocalProfileRoundTrip(t *testing.T) {
	c := newCLI(t)
	notes := filepath.Join(t.TempDir(), "notes")

	assert.Contains(t, c.mustRun("", "profile", "list"), "no profiles")
	assert.Contains(t, c.mustRun("", "profile", "add", "scratch", "--provider", "local", "--path", notes), "created profile scratch")

	out := c.mustRun("", "open")
	assert.Contains(t, out, notes)
	assert.Contains(t, out, "(0 files)")

	c.mustRun("# A\n", "save", "notes/a.md")
	assert.Equal(t, "# A\n", c.mustRun("", "cat", "notes/a.md"))

	data, err := os.ReadFile(filepath.Join(notes, "notes", "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "# A\n", string(data))

	assert.Equal(t, "local: ahead 0, behind 0, pending 0\n", c.mustRun("", "status"))

	var st repo.Status
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("", "--json", "status")), &st))
	assert.Equal(t, repo.KindLocal, st.Provider)

	assert.Equal(t, "saved and synced\n", c.mustRun("b", "save", "--sync", "b.md"))

	var res workflow.Result
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("c", "--json", "save", "--sync", "--autosave", "b.md")), &res))
	assert.Equal(t, workflow.Result{}, res)

	assert.Equal(t, repo.NothingToCommitMessage+"\n", c.mustRun("", "sync"))
	assert.Contains(t, c.mustRun("", "history", "notes/a.md"), "current")
}

func TestTraceFlagPrintsSaveSpans(t *testing.T) {
	var traces bytes.Buffer
	logOutput = &traces
	t.Cleanup(func() { logOutput = io.Discard })

	c := newCLI(t)
	c.mustRun("", "profile", "add", "scratch", "--path", t.TempDir())
	c.mustRun("traced", "--trace", "save", "--sync", "a.md")

	assert.Contains(t, traces.String(), workflow.SpanName)
}

func TestSaveFromFile(t *testing.T) {
	c := newCLI(t)
	notes := t.TempDir()
	c.mustRun("", "profile", "add", "scratch", "--path", notes)

	src := filepath.Join(t.TempDir(), "draft.md")
	require.NoError(t, os.WriteFile(src, []byte("draft"), 0o644))
	c.mustRun("", "save", "--from", src, "draft.md")
	assert.Equal(t, "draft", c.mustRun("", "cat", "draft.md"))
}

func TestErrorsCarryCodes(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("", "status")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err), "no profile yet")

	c.mustRun("", "profile", "add", "scratch", "--path", t.TempDir())

	_, err = c.run("", "cat", "missing.md")
	assert.Equal(t, errors.CodeFSNotFound, errors.CodeOf(err))

	_, err = c.run("x", "save", "../outside.md")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	_, err = c.run("", "profile", "add", "bad", "--provider", "svn", "--path", t.TempDir())
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	_, err = c.run("", "profile", "add", "remote", "--provider", "git", "--path", t.TempDir())
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err), "git needs a remote URL")
}

func TestProfileLifecycle(t *testing.T) {
	c := newCLI(t)
	c.mustRun("", "profile", "add", "first", "--path", t.TempDir())
	c.mustRun("", "profile", "add", "second", "--path", t.TempDir())

	_, err := c.run("", "profile", "rm", "first")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err), "active profile cannot be removed")

	assert.Equal(t, "active profile: second\n", c.mustRun("", "profile", "use", "second"))
	assert.Equal(t, "deleted profile first\n", c.mustRun("", "profile", "rm", "first"))

	out := c.mustRun("", "profile", "list")
	assert.NotContains(t, out, "first")
	assert.Equal(t, "second", activeProfile(out))
}

func TestProfileFlagSelectsProfile(t *testing.T) {
	c := newCLI(t)
	c.mustRun("", "profile", "add", "first", "--path", t.TempDir())
	second := t.TempDir()
	c.mustRun("", "profile", "add", "second", "--path", second)

	c.mustRun("hello", "--profile", "second", "save", "hello.md")
	_, err := os.Stat(filepath.Join(second, "hello.md"))
	require.NoError(t, err)

	assert.Equal(t, "second", activeProfile(c.mustRun("", "profile", "list")), "--profile activates")
}

// activeProfile returns the name on the starred line of "profile list".
func activeProfile(list string) string {
	for _, line := range strings.Split(list, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 1 && fields[0] == "*" {
			return fields[1]
		}
	}
	return ""
}
