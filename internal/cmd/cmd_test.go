package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencurate/ferry/internal/config"
	"github.com/opencurate/ferry/pkg/jobstore"
	"github.com/opencurate/ferry/pkg/ticket"
)

func TestBuildRegistry(t *testing.T) {
	t.Run("localfs only", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Providers.LocalFS.Enabled = true
		cfg.Providers.LocalFS.BaseDir = t.TempDir()

		registry, err := buildRegistry(cfg)
		require.NoError(t, err)
		assert.True(t, registry.Supports("localfs", jobstore.ActionDownload))
		assert.True(t, registry.Supports("localfs", jobstore.ActionUpload))
		assert.False(t, registry.Supports("s3", jobstore.ActionDownload))
	})

	t.Run("nothing enabled", func(t *testing.T) {
		registry, err := buildRegistry(&config.Config{})
		require.NoError(t, err)
		assert.Empty(t, registry.Kinds())
	})

	t.Run("localfs misconfigured", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Providers.LocalFS.Enabled = true

		_, err := buildRegistry(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "localfs provider")
	})

	t.Run("s3 misconfigured", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Providers.S3.Enabled = true

		_, err := buildRegistry(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "s3 provider")
	})
}

// captureStdout runs fn with os.Stdout redirected to a buffer.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	return buf.String()
}

func TestReapCommand_DryRunJSON(t *testing.T) {
	t.Chdir(t.TempDir())
	root := filepath.Join(t.TempDir(), "jobs")

	store, err := jobstore.NewStore(jobstore.Config{RootDir: root})
	require.NoError(t, err)
	id := ticket.FingerprintString("cmd-test-token")
	_, err = store.Create(id, jobstore.ActionDownload, time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	out := captureStdout(t, func() {
		rootCmd.SetArgs([]string{"reap", "--dry-run", "--json", "--jobs-root", root})
		require.NoError(t, rootCmd.Execute())
	})

	var res reapResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.WouldDelete)
	assert.Equal(t, 0, res.Deleted)

	// Dry run must not touch the directory.
	_, err = store.Read(id, jobstore.ActionDownload)
	require.NoError(t, err)
}

func TestJobsListCommand_Empty(t *testing.T) {
	t.Chdir(t.TempDir())
	root := filepath.Join(t.TempDir(), "jobs")

	out := captureStdout(t, func() {
		rootCmd.SetArgs([]string{"jobs", "list", "--jobs-root", root})
		require.NoError(t, rootCmd.Execute())
	})

	assert.Contains(t, out, "No jobs found")
}
