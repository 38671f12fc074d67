// Package warcpatch wires the patching pipeline into a service: the job
// ledger, the batch runner and the HTTP and MCP surfaces over them.
//
// Usage:
//
//	svc, err := warcpatch.New(cfg, logger)
//	defer svc.Close()
//	sum, err := svc.PatchCollection(ctx, "col")
//	svc.RegisterHTTP(router)
//	svc.RegisterMCP(mcpServer)
package warcpatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/USC-NSL/IMC-25-Artifact/batch"
	"github.com/USC-NSL/IMC-25-Artifact/capture"
	"github.com/USC-NSL/IMC-25-Artifact/initiator"
	"github.com/USC-NSL/IMC-25-Artifact/ledger"
	"github.com/USC-NSL/IMC-25-Artifact/pathsafe"
	"github.com/USC-NSL/IMC-25-Artifact/patcher"
	"github.com/USC-NSL/IMC-25-Artifact/warc"
)

// ErrNoCollection is returned when neither the request nor the config
// names a collection.
var ErrNoCollection = errors.New("warcpatch: no collection given")

// Service owns the ledger and the batch runner.
type Service struct {
	cfg    *Config
	ledger *ledger.Store
	runner *batch.Runner
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	ledger *ledger.Store
	runner []batch.Option
}

// WithLedger uses an already opened ledger instead of opening cfg.Ledger.
func WithLedger(l *ledger.Store) Option {
	return func(o *serviceOptions) { o.ledger = l }
}

// WithRunnerOptions passes extra options to the batch runner.
func WithRunnerOptions(opts ...batch.Option) Option {
	return func(o *serviceOptions) { o.runner = append(o.runner, opts...) }
}

// New opens the ledger and builds the runner.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	var so serviceOptions
	for _, o := range opts {
		o(&so)
	}

	bc, err := cfg.RunnerConfig()
	if err != nil {
		return nil, fmt.Errorf("warcpatch: %w", err)
	}

	store := so.ledger
	if store == nil {
		store, err = ledger.Open(cfg.Ledger.Driver, cfg.Ledger.DSN)
		if err != nil {
			return nil, fmt.Errorf("warcpatch: ledger: %w", err)
		}
	}

	runnerOpts := append([]batch.Option{batch.WithRecorder(store), batch.WithLogger(logger)}, so.runner...)
	return &Service{
		cfg:    cfg,
		ledger: store,
		runner: batch.New(bc, runnerOpts...),
		logger: logger,
	}, nil
}

// Close closes the ledger.
func (s *Service) Close() error { return s.ledger.Close() }

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.cfg }

func (s *Service) collection(c string) (string, error) {
	if c == "" {
		c = s.cfg.Collection
	}
	if c == "" {
		return "", ErrNoCollection
	}
	return c, pathsafe.ValidateIdentifier(c)
}

// PatchCollection patches every archive of collection, or of the configured
// collection when empty.
func (s *Service) PatchCollection(ctx context.Context, collection string) (*batch.Summary, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, col)
}

// PatchArchive patches one archive of a collection.
func (s *Service) PatchArchive(ctx context.Context, collection, archive string) (ledger.Entry, error) {
	col, err := s.collection(collection)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := pathsafe.ValidateIdentifier(archive); err != nil {
		return ledger.Entry{}, err
	}
	return s.runner.RunOne(ctx, col, archive), nil
}

// Jobs lists recorded job outcomes.
func (s *Service) Jobs(ctx context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	return s.ledger.List(ctx, f)
}

// Job returns one recorded outcome.
func (s *Service) Job(ctx context.Context, id string) (*ledger.Entry, error) {
	return s.ledger.Get(ctx, id)
}

// Stats counts recorded outcomes.
func (s *Service) Stats(ctx context.Context) (ledger.Stats, error) {
	return s.ledger.Stats(ctx)
}

// InitiatorReport maps every traced resource of a capture to the root page
// tags that caused it to load.
type InitiatorReport struct {
	Prefix    string              `json:"prefix"`
	Resources map[string][]string `json:"resources"`
}

// Initiators traces the capture at prefix, relative to
// <archive_dir>/writes.
func (s *Service) Initiators(prefix string) (*InitiatorReport, error) {
	path, err := pathsafe.Join(filepath.Join(s.cfg.ArchiveDir, "writes"), prefix)
	if err != nil {
		return nil, err
	}
	return TraceInitiators(path, s.cfg.ContentTypes)
}

// TraceInitiators traces the capture at an absolute prefix path.
func TraceInitiators(prefix string, contentTypes []string) (*InitiatorReport, error) {
	p, err := capture.ParsePrefix(prefix)
	if err != nil {
		return nil, err
	}
	a, err := capture.LoadArtifacts(p)
	if err != nil {
		return nil, err
	}
	g, err := initiator.Build(a, initiator.WithContentTypes(contentTypes...))
	if err != nil {
		return nil, err
	}
	roots, err := g.RootTags()
	if err != nil {
		return nil, err
	}
	return &InitiatorReport{Prefix: prefix, Resources: roots}, nil
}

// Resources compares the responses of an archive's dynamic and static
// captures.
func (s *Service) Resources(ctx context.Context, collection, archive string) (warc.ResourceDiff, error) {
	col, err := s.collection(collection)
	if err != nil {
		return warc.ResourceDiff{}, err
	}
	job, err := s.runner.Preflight(col, archive)
	if err != nil {
		return warc.ResourceDiff{}, err
	}
	opts, err := s.cfg.PatcherOptions(job.DynamicPrefix, job.DynamicWARC, job.StaticPrefix, job.StaticWARC)
	if err != nil {
		return warc.ResourceDiff{}, err
	}
	opts.Logger = s.logger
	p, err := patcher.New(ctx, opts)
	if err != nil {
		return warc.ResourceDiff{}, err
	}
	return p.Resources()
}
