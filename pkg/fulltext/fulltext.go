// Package fulltext is the public entry point for extracting plain text from
// PDFs with the containerized extractor.
package fulltext

import (
	"context"
	"io"

	"github.com/joho/godotenv"

	"github.com/spherical/fulltext-extractor/internal/config"
	"github.com/spherical/fulltext-extractor/internal/docker"
	"github.com/spherical/fulltext-extractor/internal/domain"
	"github.com/spherical/fulltext-extractor/internal/extract"
	"github.com/spherical/fulltext-extractor/internal/observability"
)

// Re-export configuration and error types for the public API
type (
	Config    = config.Config
	Error     = domain.Error
	ErrorKind = domain.ErrorKind
	Option    = extract.Option
)

// Error kinds
const (
	KindConnectivity   = domain.KindConnectivity
	KindRunFailure     = domain.KindRunFailure
	KindNoContent      = domain.KindNoContent
	KindCleanup        = domain.KindCleanup
	KindInvalidRequest = domain.KindInvalidRequest
	KindConfig         = domain.KindConfig
)

var (
	// WithImage overrides the configured extractor image for one call.
	WithImage = extract.WithImage
	// WithCleanup also removes the source PDF once non-empty text was read.
	WithCleanup = extract.WithCleanup
	// KindOf returns the kind of a returned error.
	KindOf = domain.KindOf
	// IsKind reports whether a returned error has the given kind.
	IsKind = domain.IsKind
	// LoadConfig reads a YAML file (optional) and applies environment overrides.
	LoadConfig = config.Load
)

// Client is the main entry point for the fulltext extractor library
type Client struct {
	orchestrator *extract.Orchestrator
}

// ClientOption customises client construction.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logOutput io.Writer
	logger    *observability.Logger
}

// WithLogOutput sends log lines to w instead of stderr.
func WithLogOutput(w io.Writer) ClientOption {
	return func(o *clientOptions) { o.logOutput = w }
}

// WithLogger uses an already configured logger.
func WithLogger(l *observability.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// NewClient creates a client configured from .env and the environment.
func NewClient(opts ...ClientOption) (*Client, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	return NewClientWithConfig(cfg, opts...)
}

// NewClientWithConfig creates a client from an explicit configuration.
func NewClientWithConfig(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, domain.ConfigError("config is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      cfg.Observability.LogFormat,
			Output:      o.logOutput,
			ServiceName: "fulltext-extractor",
		})
	}

	image, err := cfg.ImageRef()
	if err != nil {
		return nil, domain.ConfigError("invalid extractor image", err)
	}

	var auth string
	if cfg.HasRegistryAuth() {
		auth, err = docker.EncodeRegistryAuth(
			cfg.Extractor.Registry.Username,
			cfg.Extractor.Registry.Password,
			cfg.Extractor.Registry.ServerAddress,
		)
		if err != nil {
			return nil, domain.ConfigError("encode registry credentials", err)
		}
		logger.Debug().Str("registry", cfg.Extractor.Registry.ServerAddress).Msg("Using registry credentials")
	}

	settings := extract.Settings{
		Paths:        cfg.PathMapping(),
		Image:        image,
		RegistryAuth: auth,
	}
	connector := docker.NewConnector(cfg.Docker.Host, logger)

	return &Client{
		orchestrator: extract.New(settings, extract.DockerConnect(connector), nil, logger),
	}, nil
}

// Available reports whether the container runtime can be reached.
func (c *Client) Available(ctx context.Context) bool {
	return c.orchestrator.Available(ctx)
}

// Extract returns the plain text of the PDF at path, which must lie under
// the configured working directory. Use KindOf on the error to tell
// infrastructure failures from unextractable input; on a KindCleanup error
// the returned text is valid.
func (c *Client) Extract(ctx context.Context, path string, opts ...Option) (string, error) {
	return c.orchestrator.Extract(ctx, path, opts...)
}
