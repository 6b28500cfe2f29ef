package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tanq16/imgrab/internal/allocator"
	imghttp "github.com/tanq16/imgrab/internal/downloaders/http"
	"github.com/tanq16/imgrab/internal/utils"
)

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-a"))
	})
	mux.HandleFunc("/b.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-b"))
	})
	mux.HandleFunc("/moved.jpg", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b.png", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/gone.jpg", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newDownloader() *imghttp.Downloader {
	return imghttp.NewDownloader(utils.NewImgHTTPClient(utils.HTTPClientConfig{Timeout: 5 * time.Second}), 0)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestPoolDuplicateURLsSingleWorker(t *testing.T) {
	server := imageServer(t)
	dir := t.TempDir()
	queue := NewQueue([]string{server.URL + "/a.jpg", server.URL + "/a.jpg"})
	pool := NewPool(queue, allocator.New(), newDownloader(), PoolOptions{Workers: 1, TargetDir: dir})

	pool.Start(context.Background())
	pool.Wait()

	if !pool.IsComplete() {
		t.Fatal("expected pool to be complete")
	}
	got := listDir(t, dir)
	if len(got) != 2 || got[0] != "a-1.jpg" || got[1] != "a.jpg" {
		t.Fatalf("expected [a-1.jpg a.jpg], got %v", got)
	}
	for _, name := range got {
		data, _ := os.ReadFile(filepath.Join(dir, name))
		if string(data) != "image-a" {
			t.Errorf("%s: unexpected content %q", name, data)
		}
	}
}

func TestPoolMixedOutcomes(t *testing.T) {
	server := imageServer(t)
	dir := t.TempDir()
	urls := []string{
		server.URL + "/a.jpg",
		server.URL + "/moved.jpg",
		server.URL + "/gone.jpg",
		server.URL + "/",
		server.URL + "/noext",
		server.URL + "/b.png",
	}
	names := allocator.New()
	pool := NewPool(NewQueue(urls), names, newDownloader(), PoolOptions{Workers: 3, TargetDir: dir})
	pool.Start(context.Background())
	pool.Wait()

	stats := pool.Stats()
	if stats.Succeeded != 3 || stats.Failed != 1 || stats.Skipped != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Pending != 0 || stats.Active != 0 {
		t.Errorf("expected drained idle pool, got %+v", stats)
	}

	got := listDir(t, dir)
	want := []string{"a.jpg", "b.png", "moved.jpg"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
	data, _ := os.ReadFile(filepath.Join(dir, "moved.jpg"))
	if string(data) != "image-b" {
		t.Errorf("redirected download has content %q", data)
	}
	// the failed download keeps its reservation
	if !names.Contains("gone.jpg") {
		t.Error("expected failed download name to stay reserved")
	}
}

// blockingFetcher holds every download until released.
type blockingFetcher struct {
	started chan string
	release chan struct{}
}

func (f *blockingFetcher) Download(ctx context.Context, rawURL, outputPath string, progress imghttp.ProgressFunc) (int64, error) {
	f.started <- rawURL
	<-f.release
	return 0, os.WriteFile(outputPath, []byte("x"), 0644)
}

func TestIsCompleteTracksInFlightJobs(t *testing.T) {
	dir := t.TempDir()
	fetcher := &blockingFetcher{started: make(chan string, 2), release: make(chan struct{})}
	queue := NewQueue([]string{"http://x/a.jpg", "http://x/b.jpg"})
	pool := NewPool(queue, allocator.New(), fetcher, PoolOptions{Workers: 1, TargetDir: dir})

	if pool.IsComplete() {
		t.Fatal("pool with queued work must not be complete")
	}
	pool.Start(context.Background())

	<-fetcher.started
	if pool.IsComplete() {
		t.Fatal("pool must not be complete while the queue is non-empty")
	}
	if s := pool.Stats(); s.Pending != 1 || s.Active != 1 {
		t.Errorf("expected 1 pending and 1 active, got %+v", s)
	}

	fetcher.release <- struct{}{}
	<-fetcher.started
	if pool.Stats().Pending != 0 {
		t.Fatal("expected the queue to be empty")
	}
	if pool.IsComplete() {
		t.Fatal("pool must not be complete while a worker is mid-job")
	}

	fetcher.release <- struct{}{}
	pool.Wait()
	if !pool.IsComplete() {
		t.Fatal("expected pool to be complete after all jobs finished")
	}
}

func TestPoolDefaultsToFiveWorkers(t *testing.T) {
	pool := NewPool(NewQueue(nil), allocator.New(), newDownloader(), PoolOptions{})
	if len(pool.workers) != utils.DefaultWorkers {
		t.Errorf("expected %d workers, got %d", utils.DefaultWorkers, len(pool.workers))
	}
	pool.Start(context.Background())
	pool.Wait()
	if !pool.IsComplete() {
		t.Error("empty pool should complete immediately")
	}
}

// countingFetcher records how often each URL is fetched.
type countingFetcher struct {
	mu   sync.Mutex
	seen map[string]int
}

func (f *countingFetcher) Download(ctx context.Context, rawURL, outputPath string, progress imghttp.ProgressFunc) (int64, error) {
	f.mu.Lock()
	f.seen[rawURL]++
	f.mu.Unlock()
	if _, err := os.Stat(outputPath); err == nil {
		return 0, errors.New("output path already held by another download")
	}
	return 1, os.WriteFile(outputPath, []byte("x"), 0644)
}

func TestEachURLProcessedOnce(t *testing.T) {
	var urls []string
	for i := 0; i < 200; i++ {
		urls = append(urls, fmt.Sprintf("http://x/img.jpg?n=%d", i))
	}
	fetcher := &countingFetcher{seen: make(map[string]int)}
	dir := t.TempDir()
	pool := NewPool(NewQueue(urls), allocator.New(), fetcher, PoolOptions{Workers: 8, TargetDir: dir})
	pool.Start(context.Background())
	pool.Wait()

	for _, u := range urls {
		if fetcher.seen[u] != 1 {
			t.Fatalf("url %s fetched %d times", u, fetcher.seen[u])
		}
	}
	if n := len(listDir(t, dir)); n != len(urls) {
		t.Errorf("expected %d distinct files, got %d", len(urls), n)
	}
	if s := pool.Stats(); s.Failed != 0 || s.Succeeded != int64(len(urls)) {
		t.Errorf("unexpected stats %+v", s)
	}
}

type recordingReporter struct {
	mu       sync.Mutex
	next     int
	statuses map[int]string
}

func (r *recordingReporter) RegisterJob(url string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.statuses[r.next] = "pending"
	return r.next
}
func (r *recordingReporter) set(id int, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = s
}
func (r *recordingReporter) SetMessage(id int, message string)                              {}
func (r *recordingReporter) AddProgressBarToStream(id int, outof, final int64, text string) {}
func (r *recordingReporter) Complete(id int, message string)                                { r.set(id, "success") }
func (r *recordingReporter) Skip(id int, message string)                                    { r.set(id, "skipped") }
func (r *recordingReporter) ReportError(id int, err error)                                  { r.set(id, "error") }

func TestPoolReportsEveryJob(t *testing.T) {
	server := imageServer(t)
	reporter := &recordingReporter{statuses: make(map[int]string)}
	urls := []string{server.URL + "/a.jpg", server.URL + "/gone.jpg", server.URL + "/"}
	pool := NewPool(NewQueue(urls), allocator.New(), newDownloader(), PoolOptions{Workers: 2, TargetDir: t.TempDir(), Reporter: reporter})
	pool.Start(context.Background())
	pool.Wait()

	counts := map[string]int{}
	for _, s := range reporter.statuses {
		counts[s]++
	}
	if counts["success"] != 1 || counts["error"] != 1 || counts["skipped"] != 1 {
		t.Errorf("unexpected reported statuses %v", counts)
	}
}

func TestCancelledContextStopsPulling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &countingFetcher{seen: make(map[string]int)}
	pool := NewPool(NewQueue([]string{"http://x/a.jpg"}), allocator.New(), fetcher, PoolOptions{Workers: 2, TargetDir: t.TempDir()})
	pool.Start(ctx)
	pool.Wait()
	if len(fetcher.seen) != 0 {
		t.Errorf("expected no fetches after cancellation, got %v", fetcher.seen)
	}
	if pool.Stats().Pending != 1 {
		t.Error("expected the job to stay queued")
	}
}
