package cmd

import (
	"path/filepath"
	"testing"

	"github.com/EmpoweredVote/instance-registry/internal/config"
	"github.com/stretchr/testify/require"
)

func TestSubcommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "migrate"} {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, c.Name())
	}
}

// Both commands refuse to start without a database URL.
func TestCommandsRequireDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	missing := filepath.Join(t.TempDir(), "absent.env")

	for _, name := range []string{"serve", "migrate"} {
		rootCmd.SetArgs([]string{name, "--env-file", missing})
		err := rootCmd.Execute()
		require.ErrorIs(t, err, config.ErrMissingDatabaseURL, name)
	}
}
