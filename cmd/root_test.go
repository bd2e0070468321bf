package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestRootLoadsConfigIntoContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helios.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n  workspace: "+dir+"\n"), 0o600))

	root := newRootCmd()
	var seen *runtime
	root.AddCommand(&cobra.Command{
		Use: "check",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			seen = rt
			return err
		},
	})
	root.SetArgs([]string{"--config", path, "check"})
	root.SetOut(&bytes.Buffer{})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.NotNil(t, seen)
	require.Equal(t, 9191, seen.cfg.Server.Port)
	require.NotNil(t, seen.logger)
}

func TestRootRejectsMissingConfig(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "serve"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	require.Error(t, root.ExecuteContext(context.Background()))
}

func TestRuntimeFromEmptyContext(t *testing.T) {
	_, err := runtimeFrom(context.Background())
	require.Error(t, err)
}
