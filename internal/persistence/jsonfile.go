package persistence

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/IliaW/catalog-crawl-worker/config"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
	jsoniter "github.com/json-iterator/go"
)

// JSONFileSink buffers records and writes them out as one JSON document
// when the drain completes. Only the single writer touches it, so no
// locking is needed.
type JSONFileSink struct {
	path    string
	log     *slog.Logger
	records []*model.Record
}

func NewJSONFileSink(cfg *config.SinkConfig, log *slog.Logger) *JSONFileSink {
	return &JSONFileSink{
		path:    cfg.FilePath,
		log:     log,
		records: make([]*model.Record, 0),
	}
}

func (s *JSONFileSink) Insert(_ context.Context, record *model.Record) error {
	s.records = append(s.records, record)
	return nil
}

func (s *JSONFileSink) Close() error {
	body, err := jsoniter.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err = os.WriteFile(s.path, body, 0o644); err != nil {
		return err
	}
	s.log.Info("records written to file.", slog.Int("count", len(s.records)),
		slog.String("path", s.path))

	return nil
}
