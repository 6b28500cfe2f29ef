package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	imghttp "github.com/tanq16/imgrab/internal/downloaders/http"
	"github.com/tanq16/imgrab/internal/utils"
)

// Fetcher writes one URL, redirects included, to outputPath.
type Fetcher interface {
	Download(ctx context.Context, rawURL, outputPath string, progress imghttp.ProgressFunc) (int64, error)
}

// Namer hands out reserved file names for URLs.
type Namer interface {
	Allocate(rawURL string) (string, error)
}

// Reporter receives per-job display updates.
type Reporter interface {
	RegisterJob(url string) int
	SetMessage(id int, message string)
	AddProgressBarToStream(id int, outof, final int64, text string)
	Complete(id int, message string)
	Skip(id int, message string)
	ReportError(id int, err error)
}

type Job struct {
	ID  string
	URL string
}

type PoolOptions struct {
	Workers   int
	TargetDir string
	Reporter  Reporter
}

type Stats struct {
	Pending   int
	Active    int
	Succeeded int64
	Failed    int64
	Skipped   int64
}

type worker struct {
	id       int
	inFlight atomic.Int32
}

type Pool struct {
	queue     *Queue
	names     Namer
	fetcher   Fetcher
	targetDir string
	reporter  Reporter
	workers   []*worker
	wg        sync.WaitGroup
	started   atomic.Bool

	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

func NewPool(queue *Queue, names Namer, fetcher Fetcher, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = utils.DefaultWorkers
	}
	p := &Pool{
		queue:     queue,
		names:     names,
		fetcher:   fetcher,
		targetDir: opts.TargetDir,
		reporter:  opts.Reporter,
		workers:   make([]*worker, opts.Workers),
	}
	for i := range p.workers {
		p.workers[i] = &worker{id: i + 1}
	}
	return p
}

// Start launches every worker once; later calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *worker) {
			defer p.wg.Done()
			p.run(ctx, w)
		}(w)
	}
}

// Wait blocks until every worker has found the queue empty.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// IsComplete is true once the queue is empty and no worker holds a job.
// Workers mark themselves busy under the queue lock, so a popped job is
// never invisible to this check.
func (p *Pool) IsComplete() bool {
	p.queue.mu.Lock()
	defer p.queue.mu.Unlock()
	if len(p.queue.items) > 0 {
		return false
	}
	for _, w := range p.workers {
		if w.inFlight.Load() != 0 {
			return false
		}
	}
	return true
}

func (p *Pool) Stats() Stats {
	active := 0
	for _, w := range p.workers {
		if w.inFlight.Load() != 0 {
			active++
		}
	}
	return Stats{
		Pending:   p.queue.Len(),
		Active:    active,
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Skipped:   p.skipped.Load(),
	}
}

// next pops a URL and marks w busy in one step.
func (p *Pool) next(w *worker) (Job, bool) {
	p.queue.mu.Lock()
	defer p.queue.mu.Unlock()
	url, ok := p.queue.popLocked()
	if !ok {
		return Job{}, false
	}
	w.inFlight.Store(1)
	return Job{ID: uuid.NewString(), URL: url}, true
}

func (p *Pool) run(ctx context.Context, w *worker) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok := p.next(w)
		if !ok {
			log.Debug().Str("op", "scheduler").Int("worker", w.id).Msg("Queue drained, worker idle")
			return
		}
		p.process(ctx, w, job)
		w.inFlight.Store(0)
	}
}

func (p *Pool) process(ctx context.Context, w *worker, job Job) {
	base := utils.GetLogger("scheduler")
	logger := base.With().Str("job", job.ID).Int("worker", w.id).Logger()
	id := p.register(job.URL)

	name, err := p.names.Allocate(job.URL)
	if err != nil {
		p.skipped.Add(1)
		msg := skipMessage(err)
		logger.Warn().Str("url", job.URL).Msg(msg)
		if p.reporter != nil {
			p.reporter.Skip(id, fmt.Sprintf("%s: %s", msg, job.URL))
		}
		return
	}

	outputPath := filepath.Join(p.targetDir, name)
	logger.Info().Msgf("Downloading: %s to %s", job.URL, outputPath)
	if p.reporter != nil {
		p.reporter.SetMessage(id, fmt.Sprintf("Downloading %s", name))
	}
	var progress imghttp.ProgressFunc
	if p.reporter != nil {
		progress = func(downloaded, total int64) {
			p.reporter.AddProgressBarToStream(id, downloaded, total, name)
		}
	}

	written, err := p.fetcher.Download(ctx, job.URL, outputPath, progress)
	if err != nil {
		p.failed.Add(1)
		logger.Error().Err(err).Msgf("Error with file %s", name)
		if p.reporter != nil {
			p.reporter.ReportError(id, err)
		}
		return
	}
	p.succeeded.Add(1)
	logger.Debug().Int64("bytes", written).Msgf("Saved %s", outputPath)
	if p.reporter != nil {
		p.reporter.Complete(id, fmt.Sprintf("Saved %s (%s)", name, utils.FormatBytes(uint64(written))))
	}
}

func (p *Pool) register(url string) int {
	if p.reporter == nil {
		return 0
	}
	return p.reporter.RegisterJob(url)
}

func skipMessage(err error) string {
	switch {
	case errors.Is(err, utils.ErrNoFilename):
		return "Skipping missed filename"
	case errors.Is(err, utils.ErrNoExtension):
		return "Skipping missed extension"
	default:
		return fmt.Sprintf("Skipping: %v", err)
	}
}
