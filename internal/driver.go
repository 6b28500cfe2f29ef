package internal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/imgrab/internal/allocator"
	imghttp "github.com/tanq16/imgrab/internal/downloaders/http"
	"github.com/tanq16/imgrab/internal/extractor"
	"github.com/tanq16/imgrab/internal/scheduler"
	"github.com/tanq16/imgrab/internal/utils"
)

// LinkExtractor lists the absolute image URLs referenced by a page.
type LinkExtractor interface {
	ImageURLs(ctx context.Context, pageURL string) ([]string, error)
}

type Options struct {
	PageURL          string
	TargetDir        string
	Workers          int
	MaxRedirects     int
	PollInterval     time.Duration
	HTTPClientConfig utils.HTTPClientConfig
	Debug            bool
	Reporter         scheduler.Reporter
	Extractor        LinkExtractor // nil uses the goquery extractor
}

type Summary struct {
	Total     int
	Succeeded int64
	Failed    int64
	Skipped   int64
}

// Run downloads every image on one page into opts.TargetDir. Only startup
// problems are returned as errors; per-image failures land in the Summary.
func Run(ctx context.Context, opts Options) (Summary, error) {
	pageURL, err := utils.NormalizePageURL(opts.PageURL)
	if err != nil {
		return Summary{}, err
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	links := opts.Extractor
	if links == nil {
		pageCfg := opts.HTTPClientConfig
		pageCfg.FollowRedirects = true
		links = extractor.New(utils.NewImgHTTPClient(pageCfg))
	}
	urls, err := links.ImageURLs(ctx, pageURL)
	if err != nil {
		return Summary{}, fmt.Errorf("error collecting images from %s: %w", pageURL, err)
	}
	log.Info().Str("op", "driver").Int("images", len(urls)).Msgf("Found images on %s", pageURL)

	if err := os.MkdirAll(opts.TargetDir, 0755); err != nil {
		return Summary{}, fmt.Errorf("error creating target directory: %w", err)
	}
	names, err := allocator.SeedFromDir(opts.TargetDir)
	if err != nil {
		return Summary{}, err
	}

	imageCfg := opts.HTTPClientConfig
	imageCfg.FollowRedirects = false
	fetcher := imghttp.NewDownloader(utils.NewImgHTTPClient(imageCfg), opts.MaxRedirects)

	pool := scheduler.NewPool(scheduler.NewQueue(urls), names, fetcher, scheduler.PoolOptions{
		Workers:   opts.Workers,
		TargetDir: opts.TargetDir,
		Reporter:  opts.Reporter,
	})
	if opts.Debug {
		printStat(pool)
	}
	pool.Start(ctx)

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-done:
			break wait
		case <-ticker.C:
			if opts.Debug {
				printStat(pool)
			}
			if pool.IsComplete() {
				<-done
				break wait
			}
		}
	}

	stats := pool.Stats()
	return Summary{
		Total:     len(urls),
		Succeeded: stats.Succeeded,
		Failed:    stats.Failed,
		Skipped:   stats.Skipped,
	}, nil
}

func printStat(pool *scheduler.Pool) {
	s := pool.Stats()
	log.Info().Str("op", "driver").Int("pending", s.Pending).Int("active", s.Active).Msgf("Pending works: %d Workers active: %d", s.Pending, s.Active)
}
