// Package nodeshell translates flow and vault operations into commands for a
// ledger node's administrative shell and returns the shell's replies.
package nodeshell

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eugenetaranov/ledgerlink/internal/connector"
	"github.com/eugenetaranov/ledgerlink/internal/logging"
	"github.com/eugenetaranov/ledgerlink/internal/metrics"
)

// Shell command words.
const (
	CmdFlowList   = "flow list"
	CmdFlowStart  = "flow start"
	CmdVaultQuery = "run vaultQuery contractStateType:"
)

// Command kinds used for metrics.
const (
	KindFlowList   = "flow_list"
	KindFlowStart  = "flow_start"
	KindVaultQuery = "vault_query"
	KindRaw        = "raw"
)

// Flow and state type names are Java class names, possibly nested.
var classNameRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_.$]*$`)

// FlowInvocation names a flow and its arguments.
type FlowInvocation struct {
	FlowName string
	Args     map[string]string
}

// InvalidNameError reports a flow or state type name the shell cannot accept.
type InvalidNameError struct {
	Kind string
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid %s name %q", e.Kind, e.Name)
}

// Shell drives one node shell session.
type Shell struct {
	conn    connector.Connector
	enc     ArgEncoder
	log     *logrus.Entry
	metrics *metrics.Metrics
}

// Option configures a Shell.
type Option func(*Shell)

// WithEncoder sets the flow argument encoder. The default is QuotedEncoder.
func WithEncoder(enc ArgEncoder) Option {
	return func(s *Shell) {
		s.enc = enc
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Shell) {
		s.log = log
	}
}

// WithMetrics records command metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Shell) {
		s.metrics = m
	}
}

// New wraps an open session.
func New(conn connector.Connector, opts ...Option) *Shell {
	s := &Shell{conn: conn, enc: QuotedEncoder{}}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.Component(s.log, "nodeshell")
	return s
}

// ListFlows returns the flow names the node reports, in the node's order.
// The output is split on newlines as is, so a trailing newline yields a
// trailing empty entry; see FilterEmpty.
func (s *Shell) ListFlows(ctx context.Context) ([]string, error) {
	res, err := s.Run(ctx, KindFlowList, CmdFlowList)
	if err != nil {
		return nil, err
	}
	return strings.Split(res.Stdout, "\n"), nil
}

// StartFlow starts a flow and returns the shell's reply.
func (s *Shell) StartFlow(ctx context.Context, inv FlowInvocation) (string, error) {
	cmd, err := s.StartFlowCommand(inv)
	if err != nil {
		return "", err
	}
	res, err := s.Run(ctx, KindFlowStart, cmd)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// StartFlowCommand builds the flow start command text without running it.
func (s *Shell) StartFlowCommand(inv FlowInvocation) (string, error) {
	if !classNameRe.MatchString(inv.FlowName) {
		return "", &InvalidNameError{Kind: "flow", Name: inv.FlowName}
	}
	tokens, err := s.enc.Encode(inv.Args)
	if err != nil {
		return "", err
	}
	return s.enc.Join(CmdFlowStart+" "+inv.FlowName, tokens), nil
}

// QueryVault queries the node's vault for states of the given type.
func (s *Shell) QueryVault(ctx context.Context, stateType string) (string, error) {
	cmd, err := QueryVaultCommand(stateType)
	if err != nil {
		return "", err
	}
	res, err := s.Run(ctx, KindVaultQuery, cmd)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// QueryVaultCommand builds the vault query command text.
func QueryVaultCommand(stateType string) (string, error) {
	if !classNameRe.MatchString(stateType) {
		return "", &InvalidNameError{Kind: "state type", Name: stateType}
	}
	return CmdVaultQuery + " " + stateType, nil
}

// Run executes cmd and fails with *connector.CommandError on a nonzero exit.
func (s *Shell) Run(ctx context.Context, kind, cmd string) (*connector.Result, error) {
	started := time.Now()
	res, err := s.conn.Execute(ctx, cmd)
	if err == nil && !res.Success() {
		err = connector.NewCommandError(cmd, res)
	}
	s.metrics.ObserveCommand(kind, started, err)
	if err != nil {
		s.log.WithError(err).Warnf("Command %q failed", cmd)
		return nil, err
	}
	s.log.Debugf("Command %q completed in %s", cmd, time.Since(started))
	return res, nil
}

// FilterEmpty drops blank entries, e.g. the one produced by a trailing newline.
func FilterEmpty(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) != "" {
			out = append(out, strings.TrimSpace(n))
		}
	}
	return out
}
