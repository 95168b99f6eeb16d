// Package pipeline wires discovery, the worker pool and the persistence
// writer together and tracks the run through its states.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IliaW/catalog-crawl-worker/config"
	"github.com/IliaW/catalog-crawl-worker/internal/aws_s3"
	cacheClient "github.com/IliaW/catalog-crawl-worker/internal/cache"
	"github.com/IliaW/catalog-crawl-worker/internal/discoverer"
	"github.com/IliaW/catalog-crawl-worker/internal/extractor"
	"github.com/IliaW/catalog-crawl-worker/internal/fetcher"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
	"github.com/IliaW/catalog-crawl-worker/internal/persistence"
	"github.com/IliaW/catalog-crawl-worker/internal/worker"
)

type State int

const (
	Idle State = iota
	Discovering
	Dispatching
	Draining
	Done
	Failed
)

func (s State) String() string {
	return [...]string{"idle", "discovering", "dispatching", "draining", "done", "failed"}[s]
}

type Pipeline struct {
	Cfg         *config.Config
	Log         *slog.Logger
	Fetcher     fetcher.Fetcher
	Extractor   extractor.Extractor
	Sink        persistence.RecordSink
	Archive     aws_s3.BucketClient      // optional
	Cache       cacheClient.CachedClient // optional
	PublishChan chan<- *model.Record     // optional
	Stats       *model.PipelineStats

	mu    sync.Mutex
	state State
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.Log.Info("pipeline state changed.", slog.String("state", s.String()))
}

// Run executes one full crawl and blocks until the writer has drained.
// A site-wide discovery failure or an unreachable sink fails the run; a
// shutdown signal ends it early with the partial results persisted.
func (p *Pipeline) Run(ctx context.Context) error {
	taskChan := make(chan *model.Task, p.Cfg.QueueSettings.TaskCapacity)
	recordChan := make(chan *model.Record, p.Cfg.QueueSettings.ResultCapacity)
	panicChan := make(chan struct{}, p.Cfg.WorkerSettings.MaxWorkers)

	p.setState(Discovering)
	disc := discoverer.New(taskChan, p.Fetcher, p.Extractor, p.Cfg.CrawlSettings, p.Log, p.Stats)
	discErrChan := make(chan error, 1)
	go func() { discErrChan <- disc.Run(ctx) }()

	p.setState(Dispatching)
	workerWg := &sync.WaitGroup{}
	scrapeWorker := &worker.ScrapeWorker{
		InputChan:  taskChan,
		OutputChan: recordChan,
		PanicChan:  panicChan,
		Fetcher:    p.Fetcher,
		Extractor:  p.Extractor,
		Archive:    p.Archive,
		Cache:      p.Cache,
		Limiter:    worker.NewHostLimiter(p.Cfg.WorkerSettings.PerHostRps),
		Log:        p.Log,
		Stats:      p.Stats,
		Wg:         workerWg,
	}
	for i := 0; i < p.Cfg.WorkerSettings.MaxWorkers; i++ {
		workerWg.Add(1)
		go scrapeWorker.Run(ctx)
	}
	// Restart workers if they panic.
	go func() {
		for range panicChan {
			workerWg.Add(1)
			go scrapeWorker.Run(ctx)
		}
	}()

	writer := persistence.NewWriter(recordChan, p.PublishChan, p.Sink,
		p.Cfg.SinkSettings, p.Log, p.Stats)
	writerErrChan := make(chan error, 1)
	go func() { writerErrChan <- writer.Run(ctx) }()

	// The task channel is closed by the discoverer; the record channel may
	// only close after every worker has returned.
	discErr := <-discErrChan
	workerWg.Wait()
	close(panicChan)
	p.setState(Draining)
	close(recordChan)
	writerErr := <-writerErrChan

	if discErr != nil {
		p.setState(Failed)
		return fmt.Errorf("discovery failed: %w", discErr)
	}
	if writerErr != nil {
		p.setState(Failed)
		return fmt.Errorf("persistence failed: %w", writerErr)
	}
	if ctx.Err() != nil {
		p.Log.Warn("run interrupted. partial completion.")
	}
	p.setState(Done)

	return nil
}
