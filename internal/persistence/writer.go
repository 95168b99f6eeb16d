package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IliaW/catalog-crawl-worker/config"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
)

const defaultMaxConsecutiveFailures = 3

// Writer is the single consumer of the record channel; all sink writes are
// serialized here.
type Writer struct {
	InputChan   <-chan *model.Record
	PublishChan chan<- *model.Record // nil when the kafka producer is disabled
	Sink        RecordSink
	Cfg         *config.SinkConfig
	Log         *slog.Logger
	Stats       *model.PipelineStats
	sleep       func(time.Duration)
}

func NewWriter(input <-chan *model.Record, publish chan<- *model.Record, sink RecordSink,
	cfg *config.SinkConfig, log *slog.Logger, stats *model.PipelineStats) *Writer {
	return &Writer{
		InputChan:   input,
		PublishChan: publish,
		Sink:        sink,
		Cfg:         cfg,
		Log:         log,
		Stats:       stats,
		sleep:       time.Sleep,
	}
}

// Run drains the record channel until it is closed. Every insert gets a
// bounded retry; a single unwritable record is logged and skipped, but a
// run of consecutive failures means the sink itself is gone and aborts the
// drain. Remaining records are then discarded so the workers never block
// on a dead writer.
func (w *Writer) Run(ctx context.Context) error {
	w.Log.Debug("starting persistence writer.")
	consecutiveFailures := 0
	var fatal error
	for record := range w.InputChan {
		if err := w.insert(ctx, record); err != nil {
			w.Log.Error("record not persisted.", slog.String("url", record.SourceURL),
				slog.String("err", err.Error()))
			consecutiveFailures++
			if consecutiveFailures >= w.maxConsecutiveFailures() {
				fatal = fmt.Errorf("sink unreachable: %d consecutive insert failures: %w",
					consecutiveFailures, err)
				break
			}
			continue
		}
		consecutiveFailures = 0
		w.Stats.RecordsWritten.Add(1)
		if w.PublishChan != nil {
			w.PublishChan <- record
		}
	}
	if fatal != nil {
		for range w.InputChan {
			// unblock producers; the run is already failed
		}
		return fatal
	}
	w.Log.Info("record channel drained.")

	return nil
}

func (w *Writer) insert(ctx context.Context, record *model.Record) error {
	attempts := w.Cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = w.Sink.Insert(ctx, record)
		if err == nil {
			return nil
		}
		w.Log.Warn("insert failed.", slog.String("url", record.SourceURL),
			slog.Int("attempt", attempt), slog.String("err", err.Error()))
		if attempt < attempts {
			w.sleep(w.Cfg.RetryDelay * time.Duration(attempt))
		}
	}

	return err
}

func (w *Writer) maxConsecutiveFailures() int {
	if w.Cfg.MaxConsecutiveFailures > 0 {
		return w.Cfg.MaxConsecutiveFailures
	}
	return defaultMaxConsecutiveFailures
}
