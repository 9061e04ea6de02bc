package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/ledgerlink/internal/connector"
)

func connected(t *testing.T, opts ...Option) *Connector {
	t.Helper()
	c := New(opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestExecute(t *testing.T) {
	c := connected(t)

	res, err := c.Execute(context.Background(), "printf 'flowA\\nflowB\\n'")
	require.NoError(t, err)
	assert.Equal(t, "flowA\nflowB\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecuteNonZeroExitIsNotAnError(t *testing.T) {
	c := connected(t)

	res, err := c.Execute(context.Background(), "echo nope >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "nope\n", res.Stderr)
}

func TestExecuteDeadline(t *testing.T) {
	c := connected(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Execute(ctx, "sleep 5")
	var execErr *connector.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteBeforeConnect(t *testing.T) {
	c := New()

	_, err := c.Execute(context.Background(), "true")
	assert.ErrorIs(t, err, connector.ErrNotConnected)
}

func TestUploadOverwrites(t *testing.T) {
	c := connected(t)
	dst := filepath.Join(t.TempDir(), "contracts.jar")

	require.NoError(t, c.Upload(context.Background(), strings.NewReader("first"), dst, 0o600))
	require.NoError(t, c.Upload(context.Background(), strings.NewReader("second"), dst, 0o644))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestUploadToMissingDirectory(t *testing.T) {
	c := connected(t)
	dst := filepath.Join(t.TempDir(), "missing", "contracts.jar")

	err := c.Upload(context.Background(), strings.NewReader("x"), dst, 0o644)
	var cmdErr *connector.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.NotZero(t, cmdErr.ExitCode)
}

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want string
	}{
		{"plain", nil, "flow list"},
		{"sudo", []Option{WithSudo("")}, "sudo -- sh -c 'flow list'"},
		{"sudo as user", []Option{WithSudo("corda")}, "sudo -u corda -- sh -c 'flow list'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.opts...).buildCommand("flow list"))
		})
	}
}

func TestString(t *testing.T) {
	assert.True(t, strings.HasPrefix(New().String(), "local://"))
	assert.Contains(t, New(WithSudo("corda")).String(), "sudo as corda")
}
