// Package batch patches every archive of a collection concurrently and
// records each job's outcome.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/USC-NSL/IMC-25-Artifact/capture"
	"github.com/USC-NSL/IMC-25-Artifact/idgen"
	"github.com/USC-NSL/IMC-25-Artifact/ledger"
	"github.com/USC-NSL/IMC-25-Artifact/markup"
	"github.com/USC-NSL/IMC-25-Artifact/pathsafe"
	"github.com/USC-NSL/IMC-25-Artifact/patcher"
)

// ErrSkip marks a job whose inputs are incomplete.
var ErrSkip = errors.New("batch: inputs incomplete")

// Recorder persists job outcomes. *ledger.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Config describes how a collection is patched.
type Config struct {
	ArchiveDir    string
	DynamicSuffix string
	StaticSuffix  string

	Policy       patcher.Policy
	PinTimestamp bool
	Selector     markup.Predicate
	Anchor       markup.Predicate
	ContentTypes []string

	// Workers bounds concurrent jobs. Default 1.
	Workers int
	// Rate limits job starts per second; 0 means unlimited.
	Rate  float64
	Burst int
	// JobTimeout bounds one job; 0 means none.
	JobTimeout time.Duration
}

// Job is one archive that passed the pre-flight checks.
type Job struct {
	Collection    string
	Archive       string
	DynamicWARC   string
	StaticWARC    string
	DynamicPrefix string
	StaticPrefix  string
}

// Summary counts the outcomes of one run.
type Summary struct {
	Collection string         `json:"collection"`
	Total      int            `json:"total"`
	Patched    int            `json:"patched"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Jobs       []ledger.Entry `json:"jobs"`
}

func (s *Summary) add(e ledger.Entry) {
	s.Total++
	switch e.Status {
	case ledger.StatusPatched:
		s.Patched++
	case ledger.StatusSkipped:
		s.Skipped++
	case ledger.StatusFailed:
		s.Failed++
	}
	s.Jobs = append(s.Jobs, e)
}

// Runner fans patch jobs out over a worker pool.
type Runner struct {
	cfg     Config
	rec     Recorder
	logger  *slog.Logger
	newID   idgen.Generator
	limiter *rate.Limiter
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder sets where outcomes are recorded. Default: none.
func WithRecorder(rec Recorder) Option { return func(r *Runner) { r.rec = rec } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithIDGenerator sets the job id generator. Default: idgen.Job.
func WithIDGenerator(gen idgen.Generator) Option { return func(r *Runner) { r.newID = gen } }

// New creates a Runner.
func New(cfg Config, opts ...Option) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	r := &Runner{
		cfg:    cfg,
		logger: slog.Default(),
		newID:  idgen.Job,
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return r
}

// Archives lists the archive names of a collection: the directories under
// <archive_dir>/writes/<collection>, sorted.
func (r *Runner) Archives(collection string) ([]string, error) {
	if err := pathsafe.ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	dir := filepath.Join(r.cfg.ArchiveDir, "writes", collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("batch: list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Preflight resolves the inputs of one archive. Missing WARCs, metadata or
// metadata entries yield an error wrapping ErrSkip.
func (r *Runner) Preflight(collection, archive string) (Job, error) {
	for _, id := range []string{collection, archive} {
		if err := pathsafe.ValidateIdentifier(id); err != nil {
			return Job{}, err
		}
	}
	warcs := filepath.Join(r.cfg.ArchiveDir, "warcs", collection)
	writes := filepath.Join(r.cfg.ArchiveDir, "writes", collection, archive)
	job := Job{
		Collection:    collection,
		Archive:       archive,
		DynamicWARC:   filepath.Join(warcs, archive+"_"+r.cfg.DynamicSuffix+".warc"),
		StaticWARC:    filepath.Join(warcs, archive+"_"+r.cfg.StaticSuffix+".static.warc"),
		DynamicPrefix: filepath.Join(writes, capture.DefaultKind+"-"+r.cfg.DynamicSuffix),
		StaticPrefix:  filepath.Join(writes, capture.DefaultKind+"-"+r.cfg.StaticSuffix),
	}

	dynOK, staticOK := exists(job.DynamicWARC), exists(job.StaticWARC)
	if !dynOK || !staticOK {
		return job, fmt.Errorf("%w: no input warc file: dynamic=%t static=%t", ErrSkip, dynOK, staticOK)
	}
	md, err := capture.LoadMetadata(writes)
	if err != nil {
		return job, fmt.Errorf("%w: no metadata at %s: %v", ErrSkip, writes, err)
	}
	if _, ok := md[capture.DefaultKind]; !ok {
		return job, fmt.Errorf("%w: no %q entry in metadata", ErrSkip, capture.DefaultKind)
	}
	dynOK = md.Has(capture.DefaultKind, r.cfg.DynamicSuffix)
	staticOK = md.Has(capture.DefaultKind, r.cfg.StaticSuffix)
	if !dynOK || !staticOK {
		return job, fmt.Errorf("%w: no file suffix in metadata: dynamic=%t static=%t", ErrSkip, dynOK, staticOK)
	}
	return job, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Run patches every archive of collection. Job failures are recorded and
// counted, never returned; Run only fails when the collection cannot be
// listed or ctx ends.
func (r *Runner) Run(ctx context.Context, collection string) (*Summary, error) {
	archives, err := r.Archives(collection)
	if err != nil {
		return nil, err
	}
	r.logger.Info("batch: started", "collection", collection, "archives", len(archives), "workers", r.cfg.Workers)

	sum := &Summary{Collection: collection}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, archive := range archives {
		if r.limiter != nil {
			if err := r.limiter.Wait(gctx); err != nil {
				break
			}
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			e := r.RunOne(gctx, collection, archive)
			mu.Lock()
			sum.add(e)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(sum.Jobs, func(i, j int) bool { return sum.Jobs[i].Archive < sum.Jobs[j].Archive })
	r.logger.Info("batch: finished", "collection", collection,
		"patched", sum.Patched, "skipped", sum.Skipped, "failed", sum.Failed)
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

// RunOne patches a single archive and records the outcome.
func (r *Runner) RunOne(ctx context.Context, collection, archive string) ledger.Entry {
	e := ledger.Entry{
		ID:         r.newID(),
		Collection: collection,
		Archive:    archive,
		StartedAt:  r.now().UnixMilli(),
	}
	log := r.logger.With("job", e.ID, "collection", collection, "archive", archive)

	res, err := r.patch(ctx, collection, archive)
	switch {
	case errors.Is(err, ErrSkip):
		e.Status, e.Reason = ledger.StatusSkipped, err.Error()
		log.Warn("batch: skipped", "reason", err)
	case err != nil:
		e.Status, e.Reason = ledger.StatusFailed, err.Error()
		log.Error("batch: failed", "error", err)
	default:
		e.Status, e.Output = ledger.StatusPatched, res.Output
		e.Pairs, e.Applied = res.Pairs, res.Applied
		log.Info("batch: patched", "output", res.Output, "pairs", res.Pairs, "applied", res.Applied)
	}
	e.FinishedAt = r.now().UnixMilli()

	if r.rec != nil {
		// The outcome is recorded even when the job's context ended.
		if err := r.rec.Record(context.WithoutCancel(ctx), e); err != nil {
			log.Error("batch: record outcome", "error", err)
		}
	}
	return e
}

func (r *Runner) patch(ctx context.Context, collection, archive string) (*patcher.Result, error) {
	job, err := r.Preflight(collection, archive)
	if err != nil {
		return nil, err
	}
	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.JobTimeout)
		defer cancel()
	}
	p, err := patcher.New(ctx, patcher.Options{
		DynamicPrefix: job.DynamicPrefix,
		DynamicWARC:   job.DynamicWARC,
		StaticPrefix:  job.StaticPrefix,
		StaticWARC:    job.StaticWARC,
		Policy:        r.cfg.Policy,
		PinTimestamp:  r.cfg.PinTimestamp,
		Selector:      r.cfg.Selector,
		Anchor:        r.cfg.Anchor,
		ContentTypes:  r.cfg.ContentTypes,
		Logger:        r.logger.With("archive", archive),
	})
	if err != nil {
		return nil, err
	}
	return p.Patch(ctx)
}
