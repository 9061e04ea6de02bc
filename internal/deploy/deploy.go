// Package deploy writes contract jars into a ledger node's contract
// directory and restarts the node so it loads them.
//
// A run moves through Validating, Transferring, Restarting and Reporting.
// Validation happens before any remote I/O. Transfers are fail-fast: the
// first failed upload aborts the rest, and jars written earlier in the same
// run stay in place unless staging is enabled.
package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eugenetaranov/ledgerlink/internal/connector"
	"github.com/eugenetaranov/ledgerlink/internal/logging"
	"github.com/eugenetaranov/ledgerlink/internal/metrics"
)

// stagingPrefix names the per-run staging directory inside the contract directory.
const stagingPrefix = ".ledgerlink-staging-"

// Options configures a Pipeline.
type Options struct {
	// CorDappsDir is the node's contract directory on the remote host.
	CorDappsDir string

	// StopCmd and StartCmd restart the node. Both empty skips the restart.
	StopCmd  string
	StartCmd string

	// FileMode is applied to every written jar.
	FileMode uint32

	// Staging uploads the batch into a temporary directory first.
	Staging bool
}

// Outcome is the result of a deployment: either the deployed file names or
// the error messages, never both.
type Outcome struct {
	Deployed []string
	Errors   []string
}

// OK reports whether the deployment succeeded.
func (o *Outcome) OK() bool {
	return len(o.Errors) == 0
}

// Pipeline deploys contract jars over sessions from a Dialer.
type Pipeline struct {
	dial    connector.Dialer
	opts    Options
	log     *logrus.Entry
	metrics *metrics.Metrics
	newID   func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// WithMetrics records deployment metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a Pipeline.
func New(dial connector.Dialer, opts Options, o ...Option) *Pipeline {
	if opts.FileMode == 0 {
		opts.FileMode = 0o644
	}
	p := &Pipeline{
		dial:  dial,
		opts:  opts,
		newID: func() string { return uuid.NewString() },
	}
	for _, fn := range o {
		fn(p)
	}
	p.log = logging.Component(p.log, "deploy")
	return p
}

// Deploy runs the pipeline for one request. Failures inside the run are
// reported in the Outcome; only a session that cannot be established is
// returned as an error.
func (p *Pipeline) Deploy(ctx context.Context, artifacts []Artifact) (*Outcome, error) {
	started := time.Now()
	log := p.log.WithField("jars", len(artifacts))

	payloads, err := Validate(artifacts)
	if err != nil {
		log.WithError(err).Info("Rejected deployment request")
		p.metrics.ObserveDeployment(metrics.ResultFailure, 0)
		return failure(err), nil
	}

	conn, err := p.dial(ctx)
	if err != nil {
		log.WithError(err).Error("Could not open session for deployment")
		p.metrics.ObserveDeployment(metrics.ResultError, 0)
		return nil, err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close session")
		}
	}()

	written, err := p.transfer(ctx, conn, payloads)
	if err != nil {
		log.WithError(err).Error("Transfer failed")
		p.metrics.ObserveDeployment(metrics.ResultFailure, len(written))
		return failure(err), nil
	}

	if err := p.restart(ctx, conn, written); err != nil {
		log.WithError(err).Error("Restart failed after jars were written")
		p.metrics.ObserveDeployment(metrics.ResultFailure, len(written))
		return failure(err), nil
	}

	log.WithField("duration", time.Since(started).String()).Infof("Deployed %s", strings.Join(written, ", "))
	p.metrics.ObserveDeployment(metrics.ResultSuccess, len(written))
	return &Outcome{Deployed: written}, nil
}

// transfer uploads every payload in order and returns the names in place.
func (p *Pipeline) transfer(ctx context.Context, conn connector.Connector, payloads []Payload) ([]string, error) {
	if p.opts.Staging {
		return p.transferStaged(ctx, conn, payloads)
	}

	written := make([]string, 0, len(payloads))
	for i, pl := range payloads {
		dst := path.Join(p.opts.CorDappsDir, pl.Filename)
		p.log.Debugf("Uploading %s (%d bytes) to %s", pl.Filename, len(pl.Content), dst)
		if err := conn.Upload(ctx, bytes.NewReader(pl.Content), dst, p.opts.FileMode); err != nil {
			return written, &TransferError{
				Index:    i,
				Filename: pl.Filename,
				Dest:     dst,
				Written:  append([]string(nil), written...),
				Err:      err,
			}
		}
		written = append(written, pl.Filename)
	}
	return written, nil
}

// transferStaged uploads into a staging directory and moves the batch into
// place once every upload succeeded.
func (p *Pipeline) transferStaged(ctx context.Context, conn connector.Connector, payloads []Payload) ([]string, error) {
	stagingDir := path.Join(p.opts.CorDappsDir, stagingPrefix+p.newID())
	if err := runChecked(ctx, conn, "mkdir -p "+connector.ShellQuote(stagingDir)); err != nil {
		return nil, &TransferError{Index: -1, Dest: stagingDir, Err: fmt.Errorf("failed to create staging directory: %w", err)}
	}

	cleanup := func() {
		// best effort, the caller's context may already be done
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := runChecked(cctx, conn, "rm -rf "+connector.ShellQuote(stagingDir)); err != nil {
			p.log.WithError(err).Warnf("Failed to remove staging directory %s", stagingDir)
		}
	}

	moves := make([]string, 0, len(payloads)+1)
	for i, pl := range payloads {
		staged := path.Join(stagingDir, pl.Filename)
		if err := conn.Upload(ctx, bytes.NewReader(pl.Content), staged, p.opts.FileMode); err != nil {
			cleanup()
			return nil, &TransferError{Index: i, Filename: pl.Filename, Dest: staged, Err: err}
		}
		dst := path.Join(p.opts.CorDappsDir, pl.Filename)
		moves = append(moves, fmt.Sprintf("mv -f %s %s", connector.ShellQuote(staged), connector.ShellQuote(dst)))
	}
	moves = append(moves, "rmdir "+connector.ShellQuote(stagingDir))

	if err := runChecked(ctx, conn, strings.Join(moves, " && ")); err != nil {
		cleanup()
		return nil, &TransferError{Index: -1, Dest: p.opts.CorDappsDir, Err: fmt.Errorf("failed to move staged jars into place: %w", err)}
	}

	written := make([]string, 0, len(payloads))
	for _, pl := range payloads {
		written = append(written, pl.Filename)
	}
	return written, nil
}

// restart stops then starts the node.
func (p *Pipeline) restart(ctx context.Context, conn connector.Connector, written []string) error {
	if p.opts.StopCmd == "" && p.opts.StartCmd == "" {
		p.log.Warn("No start/stop commands configured, node was not restarted")
		return nil
	}

	steps := []struct{ name, cmd string }{
		{"stop", p.opts.StopCmd},
		{"start", p.opts.StartCmd},
	}
	for _, step := range steps {
		if step.cmd == "" {
			continue
		}
		p.log.Infof("Running %s command: %s", step.name, step.cmd)
		res, err := conn.Execute(ctx, step.cmd)
		if err == nil && !res.Success() {
			err = connector.NewCommandError(step.cmd, res)
		}
		if err != nil {
			return &RestartError{
				Step:     step.name,
				Cmd:      step.cmd,
				Dir:      p.opts.CorDappsDir,
				Deployed: written,
				Err:      err,
			}
		}
	}
	return nil
}

func runChecked(ctx context.Context, conn connector.Connector, cmd string) error {
	res, err := conn.Execute(ctx, cmd)
	if err != nil {
		return err
	}
	if !res.Success() {
		return connector.NewCommandError(cmd, res)
	}
	return nil
}

// failure builds the error Outcome for err.
func failure(err error) *Outcome {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return &Outcome{Errors: LimitErrors(verr.Problems)}
	}
	return &Outcome{Errors: LimitErrors([]string{err.Error()})}
}

// LimitErrors caps msgs at MaxErrors entries of at most MaxErrorLength
// characters each. The last kept entry counts what was dropped.
func LimitErrors(msgs []string) []string {
	if len(msgs) > MaxErrors {
		dropped := len(msgs) - MaxErrors + 1
		msgs = append(msgs[:MaxErrors-1:MaxErrors-1], fmt.Sprintf("%d more errors omitted", dropped))
	}
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = truncate(m, MaxErrorLength)
	}
	return out
}
