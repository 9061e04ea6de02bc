package connector

import (
	"context"
	"io"
	"time"
)

// WithCommandTimeout bounds every Execute and Upload on conn by d.
// A zero or negative d returns conn unchanged.
func WithCommandTimeout(conn Connector, d time.Duration) Connector {
	if d <= 0 {
		return conn
	}
	return &timeoutConnector{Connector: conn, timeout: d}
}

type timeoutConnector struct {
	Connector
	timeout time.Duration
}

func (c *timeoutConnector) Execute(ctx context.Context, cmd string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.Connector.Execute(ctx, cmd)
}

func (c *timeoutConnector) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.Connector.Upload(ctx, src, dst, mode)
}
