package nodeshell

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/ledgerlink/internal/connector"
	"github.com/eugenetaranov/ledgerlink/internal/connector/connectortest"
	"github.com/eugenetaranov/ledgerlink/internal/metrics"
)

func openShell(t *testing.T, remote *connectortest.Remote, opts ...Option) *Shell {
	t.Helper()
	conn, err := remote.Dialer()(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return New(conn, opts...)
}

func TestListFlowsKeepsTrailingEmptyEntry(t *testing.T) {
	remote := connectortest.NewRemote()
	remote.On(CmdFlowList, &connector.Result{Stdout: "flowA\nflowB\n"})

	flows, err := openShell(t, remote).ListFlows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"flowA", "flowB", ""}, flows)
	assert.Equal(t, []string{"flowA", "flowB"}, FilterEmpty(flows))
}

func TestListFlowsNonZeroExit(t *testing.T) {
	remote := connectortest.NewRemote()
	remote.On(CmdFlowList, &connector.Result{ExitCode: 1, Stderr: "shell unavailable"})

	_, err := openShell(t, remote).ListFlows(context.Background())
	var cmdErr *connector.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "shell unavailable", cmdErr.Stderr)
}

func TestListFlowsChannelFault(t *testing.T) {
	remote := connectortest.NewRemote()
	remote.OnFunc(CmdFlowList, func(string) (*connector.Result, error) {
		return nil, errors.New("channel reset")
	})

	_, err := openShell(t, remote).ListFlows(context.Background())
	var execErr *connector.ExecutionError
	assert.ErrorAs(t, err, &execErr)
}

func TestStartFlowQuoted(t *testing.T) {
	remote := connectortest.NewRemote()
	want := `flow start echoFlow counterPartyName: "O=PartyB, L=New York, C=US"`
	remote.On(want, &connector.Result{Stdout: "Flow completed with result: ok\n"})

	out, err := openShell(t, remote).StartFlow(context.Background(), FlowInvocation{
		FlowName: "echoFlow",
		Args:     map[string]string{"counterPartyName": "O=PartyB, L=New York, C=US"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Flow completed with result: ok\n", out)

	cmds, _ := remote.Snapshot()
	assert.Equal(t, []string{want}, cmds)
}

func TestStartFlowLegacyCommandText(t *testing.T) {
	s := New(nil, WithEncoder(LegacyEncoder{}))

	cmd, err := s.StartFlowCommand(FlowInvocation{
		FlowName: "echoFlow",
		Args:     map[string]string{"counterPartyName": "O=PartyB,..."},
	})
	require.NoError(t, err)
	assert.Equal(t, "flow start echoFlow  counterPartyName : O=PartyB,... ", cmd)
}

func TestStartFlowCommand(t *testing.T) {
	tests := []struct {
		name    string
		enc     ArgEncoder
		inv     FlowInvocation
		want    string
		wantErr string
	}{
		{
			name: "no args quoted",
			enc:  QuotedEncoder{},
			inv:  FlowInvocation{FlowName: "com.example.flows.EchoFlow"},
			want: "flow start com.example.flows.EchoFlow",
		},
		{
			name: "no args legacy keeps separator",
			enc:  LegacyEncoder{},
			inv:  FlowInvocation{FlowName: "EchoFlow"},
			want: "flow start EchoFlow ",
		},
		{
			name: "sorted keys",
			enc:  QuotedEncoder{},
			inv:  FlowInvocation{FlowName: "IssueFlow", Args: map[string]string{"b": "2", "a": "1"}},
			want: `flow start IssueFlow a: "1", b: "2"`,
		},
		{
			name: "escaping",
			enc:  QuotedEncoder{},
			inv:  FlowInvocation{FlowName: "EchoFlow", Args: map[string]string{"msg": `say "hi" {x: \y}`}},
			want: `flow start EchoFlow msg: "say \"hi\" {x: \\y}"`,
		},
		{
			name: "legacy corrupts braces inside values",
			enc:  LegacyEncoder{},
			inv:  FlowInvocation{FlowName: "EchoFlow", Args: map[string]string{"msg": "}x"}},
			want: "flow start EchoFlow  msg : x }",
		},
		{
			name: "nested class flow name allowed",
			enc:  QuotedEncoder{},
			inv:  FlowInvocation{FlowName: "com.example.Outer$Initiator"},
			want: "flow start com.example.Outer$Initiator",
		},
		{
			name:    "injection in flow name",
			enc:     QuotedEncoder{},
			inv:     FlowInvocation{FlowName: "EchoFlow; run shutdown"},
			wantErr: `invalid flow name "EchoFlow; run shutdown"`,
		},
		{
			name:    "bad key",
			enc:     QuotedEncoder{},
			inv:     FlowInvocation{FlowName: "EchoFlow", Args: map[string]string{"a: b": "x"}},
			wantErr: "key must be an identifier",
		},
		{
			name:    "newline in value",
			enc:     QuotedEncoder{},
			inv:     FlowInvocation{FlowName: "EchoFlow", Args: map[string]string{"a": "x\nflow list"}},
			wantErr: "control characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(nil, WithEncoder(tt.enc)).StartFlowCommand(tt.inv)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryVault(t *testing.T) {
	remote := connectortest.NewRemote()
	remote.On("run vaultQuery contractStateType: com.accenture.interoperability.states.ActorState",
		&connector.Result{Stdout: "states: []\n"})

	out, err := openShell(t, remote).QueryVault(context.Background(), "com.accenture.interoperability.states.ActorState")
	require.NoError(t, err)
	assert.Equal(t, "states: []\n", out)
}

func TestQueryVaultRejectsBadStateType(t *testing.T) {
	remote := connectortest.NewRemote()

	_, err := openShell(t, remote).QueryVault(context.Background(), "Actor State")
	var nameErr *InvalidNameError
	require.ErrorAs(t, err, &nameErr)
	assert.Equal(t, "state type", nameErr.Kind)

	cmds, _ := remote.Snapshot()
	assert.Empty(t, cmds, "nothing must reach the shell")
}

func TestRunRecordsMetrics(t *testing.T) {
	remote := connectortest.NewRemote()
	m := metrics.New(nil)

	_, err := openShell(t, remote, WithMetrics(m)).Run(context.Background(), KindRaw, "echo hi")
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "ledgerlink_remote_commands_total")
}

func TestEncoderFor(t *testing.T) {
	enc, err := EncoderFor("")
	require.NoError(t, err)
	assert.IsType(t, QuotedEncoder{}, enc)

	enc, err = EncoderFor("legacy")
	require.NoError(t, err)
	assert.IsType(t, LegacyEncoder{}, enc)

	_, err = EncoderFor("xml")
	assert.Error(t, err)
}
