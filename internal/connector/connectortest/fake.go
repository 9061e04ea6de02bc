// Package connectortest provides an in-memory connector.Connector for tests.
package connectortest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/eugenetaranov/ledgerlink/internal/connector"
)

// Handler produces the result of a command. Returning an error simulates a
// channel fault.
type Handler func(cmd string) (*connector.Result, error)

// Remote is the shared state behind every session a Dialer hands out: the
// files written and the commands run.
type Remote struct {
	mu sync.Mutex

	// Files maps remote path to content.
	Files map[string][]byte

	// Commands lists every executed command in order, uploads included.
	Commands []string

	// Uploads lists upload destinations in order.
	Uploads []string

	// Dials counts sessions opened; Closes counts sessions closed.
	Dials  int
	Closes int

	// Handlers are matched by exact command. Unmatched commands succeed
	// with empty output.
	Handlers map[string]Handler

	// FailUpload returns an error for the given destination path.
	FailUpload func(dst string) error

	// ConnectErr makes every dial fail.
	ConnectErr error
}

// NewRemote creates an empty remote.
func NewRemote() *Remote {
	return &Remote{
		Files:    make(map[string][]byte),
		Handlers: make(map[string]Handler),
	}
}

// On registers a canned result for cmd.
func (r *Remote) On(cmd string, res *connector.Result) {
	r.OnFunc(cmd, func(string) (*connector.Result, error) { return res, nil })
}

// OnFunc registers a handler for cmd.
func (r *Remote) OnFunc(cmd string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Handlers[cmd] = h
}

// Dialer returns a connector.Dialer backed by r.
func (r *Remote) Dialer() connector.Dialer {
	return func(ctx context.Context) (connector.Connector, error) {
		return connector.Dial(ctx, &Session{remote: r})
	}
}

// Snapshot returns copies of the recorded commands and uploads.
func (r *Remote) Snapshot() (commands, uploads []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Commands...), append([]string(nil), r.Uploads...)
}

// OpenSessions returns the number of sessions dialed but not yet closed.
func (r *Remote) OpenSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Dials - r.Closes
}

// Session is one fake connection to a Remote.
type Session struct {
	remote    *Remote
	connected bool
	closed    bool
}

// Connect implements connector.Connector.
func (s *Session) Connect(ctx context.Context) error {
	r := s.remote
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ConnectErr != nil {
		return &connector.ConnectionError{Target: s.String(), Err: r.ConnectErr}
	}
	if err := ctx.Err(); err != nil {
		return &connector.ConnectionError{Target: s.String(), Err: err}
	}
	r.Dials++
	s.connected = true
	return nil
}

// Execute implements connector.Connector.
func (s *Session) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	r := s.remote
	r.mu.Lock()
	if !s.connected {
		r.mu.Unlock()
		return nil, &connector.ExecutionError{Target: s.String(), Cmd: cmd, Err: connector.ErrNotConnected}
	}
	r.Commands = append(r.Commands, cmd)
	h := r.Handlers[cmd]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &connector.ExecutionError{Target: s.String(), Cmd: cmd, Err: err}
	}
	if h == nil {
		return &connector.Result{}, nil
	}
	res, err := h(cmd)
	if err != nil {
		return nil, &connector.ExecutionError{Target: s.String(), Cmd: cmd, Err: err}
	}
	return res, nil
}

// Upload implements connector.Connector.
func (s *Session) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}

	r := s.remote
	r.mu.Lock()
	defer r.mu.Unlock()
	if !s.connected {
		return &connector.ExecutionError{Target: s.String(), Cmd: "upload " + dst, Err: connector.ErrNotConnected}
	}
	r.Commands = append(r.Commands, connector.UploadCommand(dst, mode))
	r.Uploads = append(r.Uploads, dst)
	if r.FailUpload != nil {
		if err := r.FailUpload(dst); err != nil {
			return err
		}
	}
	r.Files[dst] = data
	return nil
}

// Close implements connector.Connector.
func (s *Session) Close() error {
	r := s.remote
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.connected && !s.closed {
		r.Closes++
		s.closed = true
	}
	s.connected = false
	return nil
}

// String implements connector.Connector.
func (s *Session) String() string {
	return fmt.Sprintf("fake://%p", s.remote)
}

var _ connector.Connector = (*Session)(nil)
