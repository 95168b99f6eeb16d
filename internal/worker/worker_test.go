package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/catalog-crawl-worker/internal/extractor"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubFetcher struct {
	mu      sync.Mutex
	counts  map[string]int
	failURL string
}

func newStubFetcher(failURL string) *stubFetcher {
	return &stubFetcher{counts: make(map[string]int), failURL: failURL}
}

func (f *stubFetcher) Fetch(_ context.Context, task *model.Task) *model.FetchResult {
	f.mu.Lock()
	f.counts[task.URL]++
	f.mu.Unlock()
	if task.URL == f.failURL {
		return &model.FetchResult{Task: task, Status: model.FetchHTTPError, StatusCode: 404, Attempts: 1}
	}
	return &model.FetchResult{Task: task, Status: model.FetchOK, StatusCode: 200,
		Body: "<html></html>", Attempts: 1}
}

type stubExtractor struct {
	failURL  string
	panicURL string
}

func (e *stubExtractor) ParseListing([]byte, string) (*extractor.Listing, error) {
	return &extractor.Listing{}, nil
}

func (e *stubExtractor) ParseDetail(_ []byte, pageURL string) (*model.Record, error) {
	if pageURL == e.panicURL {
		panic("corrupted state")
	}
	if pageURL == e.failURL {
		return nil, &extractor.ParseError{URL: pageURL, Reason: "missing title"}
	}
	return &model.Record{
		Fields:    map[string]any{"title": pageURL},
		SourceURL: pageURL,
		ScrapedAt: time.Now().UTC(),
	}, nil
}

func detailTasks(n int) []*model.Task {
	tasks := make([]*model.Task, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, &model.Task{
			URL:  fmt.Sprintf("https://shop.test/items/%d.html", i),
			Kind: model.DetailTask,
		})
	}
	return tasks
}

func runPool(t *testing.T, tasks []*model.Task, f *stubFetcher, e extractor.Extractor,
	workers int) ([]*model.Record, *model.PipelineStats, chan struct{}) {
	t.Helper()
	input := make(chan *model.Task, len(tasks))
	output := make(chan *model.Record, len(tasks)+1)
	panicChan := make(chan struct{}, workers)
	stats := &model.PipelineStats{}
	wg := &sync.WaitGroup{}
	w := &ScrapeWorker{
		InputChan:  input,
		OutputChan: output,
		PanicChan:  panicChan,
		Fetcher:    f,
		Extractor:  e,
		Log:        discardLogger(),
		Stats:      stats,
		Wg:         wg,
	}
	for _, task := range tasks {
		input <- task
	}
	close(input)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go w.Run(context.Background())
	}
	wg.Wait()
	close(output)

	var records []*model.Record
	for record := range output {
		records = append(records, record)
	}
	return records, stats, panicChan
}

func TestEachTaskProcessedExactlyOnce(t *testing.T) {
	f := newStubFetcher("")
	records, stats, _ := runPool(t, detailTasks(10), f, &stubExtractor{}, 3)

	require.Len(t, records, 10)
	require.Len(t, f.counts, 10)
	for url, count := range f.counts {
		require.Equal(t, 1, count, "url fetched more than once: %s", url)
	}
	require.EqualValues(t, 10, stats.Attempted.Load())
	require.EqualValues(t, 10, stats.Succeeded.Load())
	require.EqualValues(t, 0, stats.Failed.Load())
}

func TestFetchFailureIsCountedAndSkipped(t *testing.T) {
	failURL := "https://shop.test/items/3.html"
	records, stats, _ := runPool(t, detailTasks(10), newStubFetcher(failURL), &stubExtractor{}, 2)

	require.Len(t, records, 9)
	require.EqualValues(t, 10, stats.Attempted.Load())
	require.EqualValues(t, 9, stats.Succeeded.Load())
	require.EqualValues(t, 1, stats.Failed.Load())
}

func TestParseFailureIsCountedAndSkipped(t *testing.T) {
	failURL := "https://shop.test/items/7.html"
	records, stats, _ := runPool(t, detailTasks(10), newStubFetcher(""),
		&stubExtractor{failURL: failURL}, 2)

	require.Len(t, records, 9)
	require.EqualValues(t, 1, stats.Failed.Load())
	for _, record := range records {
		require.NotEqual(t, failURL, record.SourceURL)
	}
}

func TestWorkerPanicSignalsRestartChannel(t *testing.T) {
	panicURL := "https://shop.test/items/0.html"
	_, _, panicChan := runPool(t, detailTasks(1), newStubFetcher(""),
		&stubExtractor{panicURL: panicURL}, 1)

	select {
	case <-panicChan:
	case <-time.After(time.Second):
		t.Fatal("expected a panic signal")
	}
}

func TestHostLimiter(t *testing.T) {
	require.Nil(t, NewHostLimiter(0))

	var limiter *HostLimiter
	limiter.Wait(context.Background(), "https://shop.test/") // nil limiter is unlimited

	limiter = NewHostLimiter(1000)
	start := time.Now()
	for i := 0; i < 5; i++ {
		limiter.Wait(context.Background(), "https://shop.test/items/1.html")
	}
	require.Less(t, time.Since(start), time.Second)
}
