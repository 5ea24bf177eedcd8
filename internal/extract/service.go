// Package extract orchestrates plain text extraction through a single-use
// extractor container.
package extract

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/spherical/fulltext-extractor/internal/docker"
	"github.com/spherical/fulltext-extractor/internal/domain"
	"github.com/spherical/fulltext-extractor/internal/observability"
)

// Runtime is a connection to the container runtime, owned by one call.
type Runtime interface {
	Info(ctx context.Context) error
	Pull(ctx context.Context, ref, registryAuth string) error
	Run(ctx context.Context, spec docker.RunSpec) error
	Close() error
}

// ConnectFunc opens a new runtime connection.
type ConnectFunc func() (Runtime, error)

// DockerConnect adapts a docker.Connector to a ConnectFunc.
func DockerConnect(c *docker.Connector) ConnectFunc {
	return func() (Runtime, error) {
		rt, err := c.Connect()
		if err != nil {
			return nil, err
		}
		return rt, nil
	}
}

// Settings is the immutable configuration of an Orchestrator.
type Settings struct {
	Paths        domain.PathMapping
	Image        domain.ImageRef
	RegistryAuth string
}

// Orchestrator extracts text from PDFs on the shared volume. It keeps no
// state between calls and is safe for concurrent use.
type Orchestrator struct {
	settings Settings
	connect  ConnectFunc
	fs       afero.Fs
	logger   *observability.Logger
}

// New creates an orchestrator. A nil fs means the OS filesystem.
func New(settings Settings, connect ConnectFunc, fsys afero.Fs, logger *observability.Logger) *Orchestrator {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Orchestrator{
		settings: settings,
		connect:  connect,
		fs:       fsys,
		logger:   logger.WithComponent("extract"),
	}
}

type options struct {
	image   string
	cleanup bool
}

// Option customises a single Extract call.
type Option func(*options)

// WithImage runs the given image reference instead of the configured one.
func WithImage(ref string) Option {
	return func(o *options) { o.image = ref }
}

// WithCleanup also removes the source PDF once non-empty text has been
// read from it. Temporary artifacts are removed regardless.
func WithCleanup(cleanup bool) Option {
	return func(o *options) { o.cleanup = cleanup }
}

// Available reports whether the container runtime answers a status query.
// It never returns an error.
func (o *Orchestrator) Available(ctx context.Context) bool {
	log := o.logger.WithOperation("availability")

	rt, err := o.connect()
	if err != nil {
		log.Error().Err(err).Msg("Error when connecting to Docker API")
		return false
	}
	defer o.close(log, rt)

	if err := rt.Info(ctx); err != nil {
		log.Error().Err(err).Msg("Error when connecting to Docker API")
		return false
	}
	return true
}

// Extract runs the extractor container against pdfPath and returns the text
// it produced. When only the removal of temporary artifacts fails, the text
// is returned together with a KindCleanup error.
func (o *Orchestrator) Extract(ctx context.Context, pdfPath string, opts ...Option) (string, error) {
	start := time.Now()

	var op options
	for _, opt := range opts {
		opt(&op)
	}

	ref := o.settings.Image.String()
	if op.image != "" {
		ref = op.image
	}

	log := o.logger.WithOperation("extract").WithRequest(pdfPath, ref)
	log.Info().Msg("Attempting text extraction")

	if op.image != "" {
		if _, err := domain.ParseImageRef(op.image); err != nil {
			return "", o.fail(log, domain.RunFailure("invalid extractor image", err).At(domain.StageIdle).For(pdfPath, ref))
		}
	}

	req, err := NewRequest(o.settings.Paths.WorkDir, pdfPath)
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return "", o.fail(log, derr.At(domain.StageIdle).For(pdfPath, ref))
		}
		return "", err
	}

	rt, err := o.connect()
	if err != nil {
		return "", o.fail(log, domain.ConnectivityError("connect to container runtime", err).At(domain.StagePulling).For(pdfPath, ref))
	}
	defer o.close(log, rt)

	log.Debug().Str("stage", string(domain.StagePulling)).Msg("Pulling extractor image")
	if err := rt.Pull(ctx, ref, o.settings.RegistryAuth); err != nil {
		return "", o.fail(log, runtimeError("pull extractor image", err).At(domain.StagePulling).For(pdfPath, ref))
	}

	spec := docker.RunSpec{
		Image:  ref,
		Args:   []string{o.settings.Paths.ContainerPath(req)},
		Binds:  []string{o.settings.Paths.Bind()},
		Name:   "fulltext-" + uuid.NewString(),
		Labels: map[string]string{"fulltext.source": req.RelativeName},
	}
	log.Debug().
		Str("stage", string(domain.StageRunning)).
		Str("container", spec.Name).
		Strs("args", spec.Args).
		Msg("Running extractor container")
	if err := rt.Run(ctx, spec); err != nil {
		if ctx.Err() != nil {
			o.discardPartial(log, req)
		}
		return "", o.fail(log, runtimeError("run extractor container", err).At(domain.StageRunning).For(pdfPath, ref))
	}

	resultPath := o.settings.Paths.ResultPath(req)
	raw, err := afero.ReadFile(o.fs, resultPath)
	if err != nil {
		msg := "read extracted text"
		if errors.Is(err, fs.ErrNotExist) {
			msg = "expected output not found"
		}
		return "", o.fail(log, domain.NoContentError(msg, err).At(domain.StageReading).For(pdfPath, ref))
	}
	content := decode(raw)

	cleanupErr := o.cleanup(req)

	if content == "" {
		if cleanupErr != nil {
			log.Warn().Err(cleanupErr).Msg("Cleanup failed for empty result")
		}
		return "", o.fail(log, domain.NoContentError("no content extracted", nil).At(domain.StageReading).For(pdfPath, ref))
	}

	log.Info().
		Str("stage", string(domain.StageDone)).
		Dur("duration", time.Since(start)).
		Int("bytes", len(raw)).
		Bool("remove_source", op.cleanup).
		Msg("Finished extraction")

	if op.cleanup {
		if err := o.fs.Remove(req.Path); err != nil {
			log.Warn().Err(err).Msg("Failed to remove source PDF")
		}
	}

	if cleanupErr != nil {
		cleanupErr = cleanupErr.For(pdfPath, ref)
		log.Warn().Err(cleanupErr).Msg("Extraction succeeded but cleanup failed")
		return content, cleanupErr
	}
	return content, nil
}

// cleanup removes the temporary artifacts of req. All removals are attempted.
func (o *Orchestrator) cleanup(req domain.Request) *domain.Error {
	var result *multierror.Error

	if err := o.fs.Remove(o.settings.Paths.CompanionPath(req)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		result = multierror.Append(result, err)
	}
	if err := o.fs.Remove(o.settings.Paths.ResultPath(req)); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return domain.CleanupError("remove temporary artifacts", err).At(domain.StageCleaning)
	}
	return nil
}

// discardPartial removes whatever an interrupted container left behind.
func (o *Orchestrator) discardPartial(log *observability.Logger, req domain.Request) {
	for _, p := range []string{o.settings.Paths.CompanionPath(req), o.settings.Paths.ResultPath(req)} {
		if err := o.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("file", p).Msg("Failed to remove partial output")
		}
	}
}

func (o *Orchestrator) fail(log *observability.Logger, err *domain.Error) error {
	log.Error().
		Err(err.Err).
		Str("kind", string(err.Kind)).
		Str("stage", string(err.Stage)).
		Msg(err.Message)
	return err
}

func (o *Orchestrator) close(log *observability.Logger, rt Runtime) {
	if err := rt.Close(); err != nil {
		log.Debug().Err(err).Msg("Failed to close runtime connection")
	}
}

// runtimeError classifies a pull or run error.
func runtimeError(message string, err error) *domain.Error {
	if docker.IsUnreachable(err) {
		return domain.ConnectivityError(message, err)
	}
	return domain.RunFailure(message, err)
}

// decode returns raw as text. Invalid UTF-8 sequences become U+FFFD.
func decode(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}
