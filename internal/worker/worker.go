package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/IliaW/catalog-crawl-worker/internal/aws_s3"
	cacheClient "github.com/IliaW/catalog-crawl-worker/internal/cache"
	"github.com/IliaW/catalog-crawl-worker/internal/extractor"
	"github.com/IliaW/catalog-crawl-worker/internal/fetcher"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
)

// ScrapeWorker pulls detail tasks from the input channel, fetches and
// extracts them, and pushes records downstream. Retry lives in the fetcher
// and failures become counters; nothing raises past the loop.
type ScrapeWorker struct {
	InputChan  <-chan *model.Task
	OutputChan chan<- *model.Record
	PanicChan  chan struct{}
	Fetcher    fetcher.Fetcher
	Extractor  extractor.Extractor
	Archive    aws_s3.BucketClient      // optional
	Cache      cacheClient.CachedClient // optional
	Limiter    *HostLimiter             // optional
	Log        *slog.Logger
	Stats      *model.PipelineStats
	Wg         *sync.WaitGroup
}

// Run consumes tasks until the input channel is closed. After a shutdown
// signal the remaining tasks are skipped without new network attempts.
func (w *ScrapeWorker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.Log.Error("PANIC!", slog.Any("err", r))
			w.PanicChan <- struct{}{}
		}
	}()
	defer w.Wg.Done()
	w.Log.Debug("starting scrape worker.")

	for task := range w.InputChan {
		if ctx.Err() != nil {
			w.Log.Debug("shutdown signal. skipping task.", slog.String("url", task.URL))
			continue
		}
		if task.Kind != model.DetailTask {
			w.Stats.Failed.Add(1)
			w.Log.Error("unexpected task kind.", slog.String("kind", task.Kind.String()),
				slog.String("url", task.URL))
			continue
		}
		if w.Limiter != nil {
			w.Limiter.Wait(ctx, task.URL)
		}
		w.Stats.Attempted.Add(1)
		result := w.Fetcher.Fetch(ctx, task)
		if !result.OK() {
			w.Stats.Failed.Add(1)
			w.Log.Error("fetch failed.", slog.String("url", task.URL),
				slog.String("status", result.Status.String()),
				slog.Int("status_code", result.StatusCode),
				slog.Int("attempts", result.Attempts))
			continue
		}
		record, err := w.Extractor.ParseDetail([]byte(result.Body), task.URL)
		if err != nil {
			w.Stats.Failed.Add(1)
			w.Log.Error("extraction failed.", slog.String("err", err.Error()))
			continue
		}
		w.archivePage(task.URL, result.Body)
		w.Stats.Succeeded.Add(1)
		w.OutputChan <- record
	}
}

func (w *ScrapeWorker) archivePage(url, body string) {
	if w.Archive == nil {
		return
	}
	if w.Cache != nil {
		w.Cache.DecrementThreshold(url) // decrease the scrape budget for the host
	}
	link := w.Archive.ArchivePage(url, body)
	if w.Cache != nil {
		w.Cache.SaveArchiveLink(url, link)
	}
}
