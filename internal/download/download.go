package download

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tanmoy/chatdump/pkg/models"
)

const (
	// Empirically chosen politeness values: five concurrent downloads,
	// then a one second pause before the next batch.
	DefaultBatchSize = 5
	DefaultDelay     = 1 * time.Second

	manualManifest = "manual-downloads.txt"
)

// Hosts that refuse direct unauthenticated fetches. Their URLs are written
// to a manifest for the user to save by hand instead of failing silently.
var restrictedHosts = []string{
	"imagedelivery.net",
}

// Fetcher retrieves one binary resource.
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Progress is reported after every item settles.
type Progress struct {
	Completed int
	Failed    int
	Manual    int
	Total     int
	Percent   float64
	Done      bool
}

// Job tracks one "download selected" run. Cancellation is cooperative: once
// set, no further item starts, but requests already in flight finish.
type Job struct {
	ID        string
	Items     []models.ImageDescriptor
	BatchSize int
	Delay     time.Duration

	cancelled atomic.Bool

	mu        sync.Mutex
	completed int
	failed    int
	manual    int
}

func NewJob(items []models.ImageDescriptor) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Items:     items,
		BatchSize: DefaultBatchSize,
		Delay:     DefaultDelay,
	}
}

func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

func (j *Job) counts() (completed, failed, manual int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.completed, j.failed, j.manual
}

type Downloader struct {
	fetcher Fetcher
	outDir  string
	logger  *slog.Logger
}

func New(fetcher Fetcher, outDir string, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{fetcher: fetcher, outDir: outDir, logger: logger}
}

// Run processes the job in consecutive batches. Within a batch all items
// download concurrently; batch N+1 never starts before batch N fully
// settled and the inter-batch delay elapsed. A single item's failure never
// stops the job. The final Progress carries completed+failed+manual == total
// unless the job was cancelled first.
func (d *Downloader) Run(ctx context.Context, job *Job, onProgress func(Progress)) (Progress, error) {
	if err := os.MkdirAll(d.outDir, 0755); err != nil {
		return Progress{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	total := len(job.Items)
	batchSize := job.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	// Items inside a batch settle concurrently; reports stay serialized.
	var reportMu sync.Mutex
	report := func(done bool) {
		if onProgress == nil {
			return
		}
		reportMu.Lock()
		defer reportMu.Unlock()
		completed, failed, manual := job.counts()
		p := Progress{
			Completed: completed,
			Failed:    failed,
			Manual:    manual,
			Total:     total,
			Done:      done,
		}
		if done {
			p.Percent = 100
		} else if total > 0 {
			p.Percent = float64(completed+failed+manual) / float64(total) * 100
			if p.Percent >= 100 {
				p.Percent = 99
			}
		}
		onProgress(p)
	}

	for start := 0; start < total; start += batchSize {
		if job.Cancelled() || ctx.Err() != nil {
			break
		}

		end := min(start+batchSize, total)
		lastBatch := end == total

		g := new(errgroup.Group)
		for i := start; i < end; i++ {
			if job.Cancelled() {
				break
			}
			item := job.Items[i]
			index := i
			g.Go(func() error {
				d.fetchOne(ctx, job, item, index)
				report(false)
				return nil
			})
		}
		g.Wait()

		if lastBatch || job.Cancelled() {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(job.Delay):
		}
	}

	completed, failed, manual := job.counts()
	final := Progress{
		Completed: completed,
		Failed:    failed,
		Manual:    manual,
		Total:     total,
		Percent:   100,
		Done:      true,
	}
	if onProgress != nil {
		onProgress(final)
	}
	return final, nil
}

func (d *Downloader) fetchOne(ctx context.Context, job *Job, item models.ImageDescriptor, index int) {
	if isRestrictedHost(item.URL) {
		if err := d.appendManual(item.URL); err != nil {
			d.logger.Warn("failed to record manual download", "url", item.URL, "error", err)
			job.mu.Lock()
			job.failed++
			job.mu.Unlock()
			return
		}
		d.logger.Info("restricted host, saved link for manual download", "url", item.URL)
		job.mu.Lock()
		job.manual++
		job.mu.Unlock()
		return
	}

	data, err := d.fetcher.Download(ctx, item.URL)
	if err != nil {
		d.logger.Warn("download failed", "url", item.URL, "error", err)
		job.mu.Lock()
		job.failed++
		job.mu.Unlock()
		return
	}

	dest := filepath.Join(d.outDir, itemFilename(item, index))
	if err := os.WriteFile(dest, data, 0644); err != nil {
		d.logger.Warn("failed to write file", "path", dest, "error", err)
		job.mu.Lock()
		job.failed++
		job.mu.Unlock()
		return
	}

	job.mu.Lock()
	job.completed++
	job.mu.Unlock()
}

func (d *Downloader) appendManual(rawURL string) error {
	f, err := os.OpenFile(filepath.Join(d.outDir, manualManifest), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, rawURL)
	return err
}

func isRestrictedHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, r := range restrictedHosts {
		if host == r || strings.HasSuffix(host, "."+r) {
			return true
		}
	}
	return false
}

// itemFilename derives a stable on-disk name from the descriptor. The index
// prefix keeps distinct assets with identical basenames from colliding.
func itemFilename(item models.ImageDescriptor, index int) string {
	norm := item.NormalizedURL
	if norm == "" {
		norm = item.URL
	}
	base := path.Base(norm)
	if base == "." || base == "/" || base == "" {
		base = "image"
	}
	if path.Ext(base) == "" {
		base += ".jpg"
	}
	return fmt.Sprintf("%03d-%s", index+1, base)
}
