package plugin

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/eugenetaranov/ledgerlink/internal/config"
	"github.com/eugenetaranov/ledgerlink/internal/connector"
	"github.com/eugenetaranov/ledgerlink/internal/connector/docker"
	"github.com/eugenetaranov/ledgerlink/internal/connector/local"
	"github.com/eugenetaranov/ledgerlink/internal/connector/ssh"
)

// NewDialer returns a Dialer for the configured transport. Key material is
// read once, here.
func NewDialer(r config.Remote, log *logrus.Entry) (connector.Dialer, error) {
	switch r.Transport {
	case config.TransportSSH, "":
		cfg := ssh.Config{
			Host:           r.Host,
			Port:           r.Port,
			User:           r.User,
			Password:       r.Password,
			KnownHostsFile: r.KnownHostsFile,
			ConnectTimeout: r.ConnectTimeout,
			CommandTimeout: r.CommandTimeout,
		}
		if r.PrivateKeyFile != "" {
			key, err := os.ReadFile(r.PrivateKeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read private key: %w", err)
			}
			cfg.PrivateKey = key
		}
		if r.Passphrase != "" {
			cfg.Passphrase = []byte(r.Passphrase)
		}
		return func(ctx context.Context) (connector.Connector, error) {
			return connector.Dial(ctx, ssh.New(cfg, ssh.WithLogger(log)))
		}, nil

	case config.TransportLocal:
		opts := localOptions(r)
		return func(ctx context.Context) (connector.Connector, error) {
			conn, err := connector.Dial(ctx, local.New(opts...))
			if err != nil {
				return nil, err
			}
			return connector.WithCommandTimeout(conn, r.CommandTimeout), nil
		}, nil

	case config.TransportDocker:
		opts := dockerOptions(r)
		return func(ctx context.Context) (connector.Connector, error) {
			conn, err := connector.Dial(ctx, docker.New(r.Container, opts...))
			if err != nil {
				return nil, err
			}
			return connector.WithCommandTimeout(conn, r.CommandTimeout), nil
		}, nil

	default:
		return nil, fmt.Errorf("unsupported transport: %s", r.Transport)
	}
}

func localOptions(r config.Remote) []local.Option {
	var opts []local.Option
	if r.Shell != "" {
		opts = append(opts, local.WithShell(r.Shell, "-c"))
	}
	if r.Sudo {
		opts = append(opts, local.WithSudo(r.SudoUser))
	}
	return opts
}

func dockerOptions(r config.Remote) []docker.Option {
	var opts []docker.Option
	if r.User != "" {
		opts = append(opts, docker.WithUser(r.User))
	}
	if r.Workdir != "" {
		opts = append(opts, docker.WithWorkdir(r.Workdir))
	}
	for k, v := range r.Env {
		opts = append(opts, docker.WithEnv(k, v))
	}
	return opts
}
