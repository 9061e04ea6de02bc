package testledger_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/ledgerlink/internal/config"
	"github.com/eugenetaranov/ledgerlink/internal/logging"
	"github.com/eugenetaranov/ledgerlink/internal/nodeshell"
	"github.com/eugenetaranov/ledgerlink/internal/plugin"
	"github.com/eugenetaranov/ledgerlink/pkg/client"
	"github.com/eugenetaranov/ledgerlink/pkg/testledger"
)

// Environment switches for the container tests.
const (
	envImage   = "LEDGERLINK_CORDA_IMAGE"
	envJarsDir = "LEDGERLINK_TEST_JARS_DIR"
)

func startLedger(t *testing.T) (*testledger.Ledger, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	image := os.Getenv(envImage)
	if image == "" {
		t.Skipf("%s not set", envImage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
	t.Cleanup(cancel)

	ledger := testledger.New(testledger.WithImage(image), testledger.WithLogger(logging.Discard()))
	require.NoError(t, ledger.Start(ctx), "failed to start ledger container")
	t.Cleanup(func() {
		if err := ledger.Destroy(context.WithoutCancel(ctx)); err != nil {
			t.Logf("failed to destroy ledger container: %v", err)
		}
	})
	return ledger, ctx
}

func partyAConfig(t *testing.T, ctx context.Context, ledger *testledger.Ledger) config.Config {
	t.Helper()
	admin, err := ledger.SSHConfig(ctx)
	require.NoError(t, err)
	shell, err := ledger.PartyASSHConfig(ctx)
	require.NoError(t, err)

	cfg := config.Config{
		Remote:    admin,
		NodeShell: &shell,
		Node: config.Node{
			CorDappsDir: testledger.CorDappsDirPartyA,
			StopCmd:     testledger.StopCmdPartyA,
			StartCmd:    testledger.StartCmdPartyA,
		},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func loadJars(t *testing.T) []client.Artifact {
	t.Helper()
	dir := os.Getenv(envJarsDir)
	if dir == "" {
		t.Skipf("%s not set", envJarsDir)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.jar"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no jars in %s", dir)
	sort.Strings(paths)

	jars := make([]client.Artifact, 0, len(paths))
	for _, p := range paths {
		jar, err := client.ArtifactFromFile(p)
		require.NoError(t, err)
		jars = append(jars, jar)
	}
	return jars
}

// assertFileExists checks that a file exists in the container
func assertFileExists(t *testing.T, ctx context.Context, ledger *testledger.Ledger, path string) {
	t.Helper()
	res, err := ledger.Exec(ctx, "test", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode, "file %s should exist", path)
}

// assertFileMode checks that a file has the expected permission mode
func assertFileMode(t *testing.T, ctx context.Context, ledger *testledger.Ledger, path, expected string) {
	t.Helper()
	res, err := ledger.Exec(ctx, "stat", "-c", "%a", path)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode, "failed to stat %s", path)
	assert.Equal(t, expected, strings.TrimSpace(res.Stdout), "file %s should have mode %s", path, expected)
}

// waitForFlows polls the node shell until the node answers after a restart.
func waitForFlows(t *testing.T, ctx context.Context, p *plugin.Plugin) []string {
	t.Helper()
	var flows []string
	require.Eventually(t, func() bool {
		var err error
		flows, err = p.ListFlows(ctx)
		return err == nil && len(nodeshell.FilterEmpty(flows)) > 0
	}, 5*time.Minute, 5*time.Second, "node shell never listed flows")
	return nodeshell.FilterEmpty(flows)
}

func TestLedgerSSH(t *testing.T) {
	ledger, ctx := startLedger(t)

	res, err := ledger.Exec(ctx, "test", "-d", testledger.CorDappsDirPartyA)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	for _, get := range []func(context.Context) (config.Remote, error){
		ledger.SSHConfig, ledger.PartyASSHConfig, ledger.PartyBSSHConfig,
	} {
		r, err := get(ctx)
		require.NoError(t, err)
		assert.Equal(t, config.TransportSSH, r.Transport)
		assert.NotZero(t, r.Port)
	}
}

func TestDeployAndStartFlow(t *testing.T) {
	ledger, ctx := startLedger(t)
	jars := loadJars(t)

	p, err := plugin.New(partyAConfig(t, ctx, ledger), plugin.WithLogger(logging.Discard()))
	require.NoError(t, err)

	router := mux.NewRouter()
	_, err = p.InstallWebServices(ctx, router)
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	c := client.New(srv.URL, client.WithTimeout(15*time.Minute))
	deployed, err := c.DeployContractJars(ctx, jars)
	require.NoError(t, err)
	require.Len(t, deployed, len(jars))

	for _, jar := range jars {
		path := testledger.CorDappsDirPartyA + "/" + jar.Filename
		assertFileExists(t, ctx, ledger, path)
		assertFileMode(t, ctx, ledger, path, "644")
	}

	flows := waitForFlows(t, ctx, p)
	t.Logf("node lists %d flows", len(flows))

	listed, err := c.ListFlows(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, flows, listed)
}

func TestDeployRejectsTraversal(t *testing.T) {
	ledger, ctx := startLedger(t)

	p, err := plugin.New(partyAConfig(t, ctx, ledger), plugin.WithLogger(logging.Discard()))
	require.NoError(t, err)

	outcome, err := p.Deploy(ctx, []client.Artifact{{Filename: "../evil.jar", ContentBase64: "AAAA"}})
	require.NoError(t, err)
	require.False(t, outcome.OK())
	assert.NotEmpty(t, outcome.Errors)

	res, err := ledger.Exec(ctx, "test", "-e", "/opt/corda/partyA/evil.jar")
	require.NoError(t, err)
	assert.NotEqual(t, 0, res.ExitCode, "traversal target must not exist")
}
