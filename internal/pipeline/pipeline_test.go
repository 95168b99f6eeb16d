package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/catalog-crawl-worker/config"
	"github.com/IliaW/catalog-crawl-worker/internal/extractor"
	"github.com/IliaW/catalog-crawl-worker/internal/fetcher"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
	"github.com/IliaW/catalog-crawl-worker/internal/persistence"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memorySink commits records in arrival order and can be told to start
// failing after a number of commits.
type memorySink struct {
	mu        sync.Mutex
	failAfter int // 0 means never fail
	records   []*model.Record
}

func (s *memorySink) Insert(_ context.Context, record *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.records) >= s.failAfter {
		return errors.New("connection refused")
	}
	s.records = append(s.records, record)
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// upsertSink keys records by source url the way the mysql repository does.
type upsertSink struct {
	mu    sync.Mutex
	byURL map[string]*model.Record
}

func newUpsertSink() *upsertSink {
	return &upsertSink{byURL: make(map[string]*model.Record)}
}

func (s *upsertSink) Insert(_ context.Context, record *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byURL[record.SourceURL] = record
	return nil
}

func (s *upsertSink) Close() error { return nil }

func listingPage(links []string, next string) string {
	body := "<html><body><section>"
	for _, link := range links {
		body += fmt.Sprintf(`<article class="product_pod"><h3><a href="%s" title="x">x</a></h3></article>`, link)
	}
	if next != "" {
		body += fmt.Sprintf(`<ul class="pager"><li class="next"><a href="%s">next</a></li></ul>`, next)
	}
	return body + "</section></body></html>"
}

func detailPage(title string) string {
	return fmt.Sprintf(`<html><body><div class="col-sm-6 product_main">
<h1>%s</h1><p class="price_color">£51.77</p>
<p class="instock availability">In stock (22 available)</p>
</div></body></html>`, title)
}

func serveHTML(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	}
}

// catalogServer mimics a two-page catalog with three product pages.
func catalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/catalogue/page-1.html",
		serveHTML(listingPage([]string{"a/index.html", "b/index.html"}, "page-2.html")))
	mux.HandleFunc("/catalogue/page-2.html",
		serveHTML(listingPage([]string{"c/index.html"}, "")))
	for _, name := range []string{"a", "b", "c"} {
		mux.HandleFunc("/catalogue/"+name+"/index.html", serveHTML(detailPage("book "+name)))
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testPipelineConfig(baseURL, strategy string) *config.Config {
	return &config.Config{
		CrawlSettings: &config.CrawlConfig{
			BaseURL:  baseURL + "/",
			Seeds:    []string{"catalogue/page-1.html"},
			Strategy: strategy,
		},
		WorkerSettings: &config.WorkerConfig{
			MaxWorkers:    2,
			ScrapeTimeout: 5 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    10 * time.Millisecond,
			UserAgent:     "catalog-crawl-worker-test",
		},
		QueueSettings: &config.QueueConfig{TaskCapacity: 4, ResultCapacity: 4},
		SinkSettings: &config.SinkConfig{
			RetryAttempts:          1,
			RetryDelay:             time.Millisecond,
			MaxConsecutiveFailures: 1,
		},
	}
}

func newTestPipeline(cfg *config.Config, sink persistence.RecordSink) (*Pipeline, *model.PipelineStats) {
	log := discardLogger()
	stats := &model.PipelineStats{}
	p := &Pipeline{
		Cfg:       cfg,
		Log:       log,
		Fetcher:   fetcher.New(fetcher.NewCurlMechanism(cfg.WorkerSettings), cfg.WorkerSettings, log),
		Extractor: extractor.NewCatalogExtractor(),
		Sink:      sink,
		Stats:     stats,
	}
	return p, stats
}

func TestPipelineEndToEnd(t *testing.T) {
	srv := catalogServer(t)
	sink := newUpsertSink()
	p, stats := newTestPipeline(testPipelineConfig(srv.URL, "lazy"), sink)

	require.NoError(t, p.Run(context.Background()))
	require.Equal(t, Done, p.State())

	// 2 listing pages + 3 detail pages
	require.EqualValues(t, 5, stats.Attempted.Load())
	require.EqualValues(t, 5, stats.Succeeded.Load())
	require.EqualValues(t, 0, stats.Failed.Load())
	require.EqualValues(t, 3, stats.RecordsWritten.Load())

	require.Len(t, sink.byURL, 3)
	titles := make(map[string]bool)
	for _, record := range sink.byURL {
		titles[record.Fields["title"].(string)] = true
		require.NotEmpty(t, record.SourceURL)
		require.False(t, record.ScrapedAt.IsZero())
	}
	require.Equal(t, map[string]bool{"book a": true, "book b": true, "book c": true}, titles)
}

func TestPipelineEagerStrategy(t *testing.T) {
	srv := catalogServer(t)
	sink := newUpsertSink()
	p, stats := newTestPipeline(testPipelineConfig(srv.URL, "eager"), sink)

	require.NoError(t, p.Run(context.Background()))
	require.Equal(t, Done, p.State())
	require.EqualValues(t, 3, stats.RecordsWritten.Load())
	require.Len(t, sink.byURL, 3)
}

func TestPipelineRerunIsIdempotent(t *testing.T) {
	srv := catalogServer(t)
	sink := newUpsertSink()

	for i := 0; i < 2; i++ {
		p, _ := newTestPipeline(testPipelineConfig(srv.URL, "lazy"), sink)
		require.NoError(t, p.Run(context.Background()))
	}
	require.Len(t, sink.byURL, 3) // a re-run overwrites, never duplicates
}

func TestPipelineFailsWhenSinkDies(t *testing.T) {
	srv := catalogServer(t)
	sink := &memorySink{failAfter: 2}
	p, stats := newTestPipeline(testPipelineConfig(srv.URL, "lazy"), sink)

	err := p.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "persistence failed")
	require.Equal(t, Failed, p.State())
	require.EqualValues(t, 2, stats.RecordsWritten.Load())
	require.Equal(t, 2, sink.len())
}

func TestPipelineFailsWhenFirstPageUnreachable(t *testing.T) {
	srv := catalogServer(t)
	sink := newUpsertSink()
	cfg := testPipelineConfig(srv.URL, "lazy")
	cfg.CrawlSettings.Seeds = []string{"catalogue/missing.html"}
	cfg.WorkerSettings.RetryAttempts = 1
	p, stats := newTestPipeline(cfg, sink)

	err := p.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "discovery failed")
	require.Equal(t, Failed, p.State())
	require.EqualValues(t, 0, stats.RecordsWritten.Load())
}

func TestPipelineHonorsCancelledContext(t *testing.T) {
	srv := catalogServer(t)
	sink := newUpsertSink()
	p, stats := newTestPipeline(testPipelineConfig(srv.URL, "lazy"), sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	require.Equal(t, Done, p.State())
	require.EqualValues(t, 0, stats.RecordsWritten.Load())
}

func TestBoundedQueueAppliesBackpressure(t *testing.T) {
	queue := make(chan *model.Task, 2)
	queue <- &model.Task{}
	queue <- &model.Task{}

	unblocked := make(chan struct{})
	go func() {
		queue <- &model.Task{}
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("enqueue into a full queue must block")
	case <-time.After(50 * time.Millisecond):
	}

	<-queue
	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("enqueue must resume once capacity frees up")
	}
}
