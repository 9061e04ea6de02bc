// Package config loads the connector configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Transports supported for the remote session.
const (
	TransportSSH    = "ssh"
	TransportLocal  = "local"
	TransportDocker = "docker"
)

// Argument encodings for flow start commands.
const (
	ArgEncodingQuoted = "quoted"
	ArgEncodingLegacy = "legacy"
)

// Defaults.
const (
	DefaultSSHPort         = 22
	DefaultConnectTimeout  = 30 * time.Second
	DefaultCommandTimeout  = 5 * time.Minute
	DefaultFileMode        = 0o644
	DefaultMaxBodyBytes    = 50 * 1024 * 1024
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Config is the connector configuration. It is treated as immutable once
// loaded; consumers take copies.
type Config struct {
	// Remote is the administrative shell used to write contract jars and
	// restart the node.
	Remote Remote `yaml:"remote"`

	// NodeShell is the node's own shell used for flow and vault commands.
	// Defaults to Remote when omitted.
	NodeShell *Remote `yaml:"node_shell,omitempty"`

	Node   Node   `yaml:"node"`
	Deploy Deploy `yaml:"deploy"`

	// HTTP binds a dedicated server when set.
	HTTP *HTTP `yaml:"http,omitempty"`

	Log Log `yaml:"log"`
}

// Remote holds the remote session parameters.
type Remote struct {
	Transport      string        `yaml:"transport"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	PrivateKeyFile string        `yaml:"private_key_file"`
	Passphrase     string        `yaml:"passphrase"`
	KnownHostsFile string        `yaml:"known_hosts_file"`
	Container      string        `yaml:"container"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// Local transport only.
	Shell    string `yaml:"shell"`
	Sudo     bool   `yaml:"sudo"`
	SudoUser string `yaml:"sudo_user"`

	// Docker transport only.
	Workdir string            `yaml:"workdir"`
	Env     map[string]string `yaml:"env"`
}

// Node holds the ledger node specifics.
type Node struct {
	CorDappsDir string `yaml:"cordapps_dir"`
	StartCmd    string `yaml:"start_cmd"`
	StopCmd     string `yaml:"stop_cmd"`
	ArgEncoding string `yaml:"arg_encoding"`
}

// Deploy tunes the deployment pipeline.
type Deploy struct {
	// Staging uploads into a temporary directory and moves the batch into
	// place only when every upload succeeded.
	Staging  bool   `yaml:"staging"`
	FileMode uint32 `yaml:"file_mode"`
}

// HTTP configures the dedicated HTTP server.
type HTTP struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (h *HTTP) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadFile reads, parses, expands and validates a config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, expands ${VAR} references in the session fields,
// applies defaults and validates. Node commands are taken verbatim.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config format: %w", err)
	}

	cfg.Remote.expand()
	if cfg.NodeShell != nil {
		cfg.NodeShell.expand()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	c.Remote.applyDefaults()
	if c.NodeShell != nil {
		c.NodeShell.applyDefaults()
	}
	if c.Node.ArgEncoding == "" {
		c.Node.ArgEncoding = ArgEncodingQuoted
	}
	if c.Deploy.FileMode == 0 {
		c.Deploy.FileMode = DefaultFileMode
	}
	if c.HTTP != nil {
		if c.HTTP.Host == "" {
			c.HTTP.Host = "127.0.0.1"
		}
		if c.HTTP.MaxBodyBytes == 0 {
			c.HTTP.MaxBodyBytes = DefaultMaxBodyBytes
		}
		if c.HTTP.ShutdownTimeout == 0 {
			c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${NAME} with the environment value of NAME (empty when
// unset). Bare $NAME, $$ and other shell syntax are left alone.
func ExpandEnv(s string) string {
	return envRefRe.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// expand resolves environment references in connection and credential fields.
func (r *Remote) expand() {
	for _, f := range []*string{
		&r.Host, &r.User, &r.Password, &r.PrivateKeyFile, &r.Passphrase,
		&r.KnownHostsFile, &r.Container, &r.SudoUser,
	} {
		*f = ExpandEnv(*f)
	}
	for k, v := range r.Env {
		r.Env[k] = ExpandEnv(v)
	}
}

func (r *Remote) applyDefaults() {
	if r.Transport == "" {
		r.Transport = TransportSSH
	}
	if r.Port == 0 && r.Transport == TransportSSH {
		r.Port = DefaultSSHPort
	}
	if r.ConnectTimeout == 0 {
		r.ConnectTimeout = DefaultConnectTimeout
	}
	if r.CommandTimeout == 0 {
		r.CommandTimeout = DefaultCommandTimeout
	}
}

// NodeShellRemote returns the session parameters for flow and vault commands.
func (c *Config) NodeShellRemote() Remote {
	if c.NodeShell != nil {
		return *c.NodeShell
	}
	return c.Remote
}

// Clone returns a deep copy.
func (c *Config) Clone() Config {
	out := *c
	out.Remote = c.Remote.clone()
	if c.NodeShell != nil {
		ns := c.NodeShell.clone()
		out.NodeShell = &ns
	}
	if c.HTTP != nil {
		h := *c.HTTP
		out.HTTP = &h
	}
	return out
}

func (r Remote) clone() Remote {
	if r.Env != nil {
		env := make(map[string]string, len(r.Env))
		for k, v := range r.Env {
			env[k] = v
		}
		r.Env = env
	}
	return r
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.Remote.validate("remote")...)
	if c.NodeShell != nil {
		errs = append(errs, c.NodeShell.validate("node_shell")...)
	}

	if c.Node.CorDappsDir == "" {
		errs = append(errs, errors.New("node.cordapps_dir is required"))
	}
	switch c.Node.ArgEncoding {
	case ArgEncodingQuoted, ArgEncodingLegacy:
	default:
		errs = append(errs, fmt.Errorf("node.arg_encoding must be %q or %q, got %q", ArgEncodingQuoted, ArgEncodingLegacy, c.Node.ArgEncoding))
	}
	if c.Deploy.FileMode > 0o777 {
		errs = append(errs, fmt.Errorf("deploy.file_mode %o is not a permission mode", c.Deploy.FileMode))
	}

	if c.HTTP != nil {
		if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
		}
		if c.HTTP.MaxBodyBytes < 0 {
			errs = append(errs, errors.New("http.max_body_bytes must not be negative"))
		}
	}

	return errors.Join(errs...)
}

func (r *Remote) validate(section string) []error {
	var errs []error
	switch r.Transport {
	case TransportSSH:
		if r.Host == "" {
			errs = append(errs, fmt.Errorf("%s.host is required for ssh transport", section))
		}
		if r.User == "" {
			errs = append(errs, fmt.Errorf("%s.user is required for ssh transport", section))
		}
		if r.Password == "" && r.PrivateKeyFile == "" {
			errs = append(errs, fmt.Errorf("%s requires password or private_key_file", section))
		}
		if r.Port < 1 || r.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s.port %d out of range", section, r.Port))
		}
	case TransportDocker:
		if r.Container == "" {
			errs = append(errs, fmt.Errorf("%s.container is required for docker transport", section))
		}
	case TransportLocal:
	default:
		errs = append(errs, fmt.Errorf("%s.transport %q is not one of ssh, local, docker", section, r.Transport))
	}
	if r.Transport != TransportLocal && (r.Shell != "" || r.Sudo || r.SudoUser != "") {
		errs = append(errs, fmt.Errorf("%s shell, sudo and sudo_user apply to the local transport only", section))
	}
	if r.SudoUser != "" && !r.Sudo {
		errs = append(errs, fmt.Errorf("%s.sudo_user requires sudo: true", section))
	}
	if r.Transport != TransportDocker && (r.Workdir != "" || len(r.Env) > 0) {
		errs = append(errs, fmt.Errorf("%s workdir and env apply to the docker transport only", section))
	}
	if r.ConnectTimeout < 0 || r.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s timeouts must not be negative", section))
	}
	return errs
}
