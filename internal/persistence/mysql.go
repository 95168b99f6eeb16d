package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/IliaW/catalog-crawl-worker/internal/model"
	jsoniter "github.com/json-iterator/go"
)

const upsertProductQuery = `INSERT INTO products (source_url, title, fields, scraped_at)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE title = VALUES(title), fields = VALUES(fields), scraped_at = VALUES(scraped_at)`

// ProductRepository persists records to the products table keyed by
// source_url, so a re-run updates rows instead of duplicating them.
type ProductRepository struct {
	db  *sql.DB
	log *slog.Logger
}

func NewProductRepository(db *sql.DB, log *slog.Logger) *ProductRepository {
	return &ProductRepository{db: db, log: log}
}

func (pr *ProductRepository) Insert(ctx context.Context, record *model.Record) error {
	fields, err := jsoniter.MarshalToString(record.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	title, _ := record.Fields["title"].(string)
	_, err = pr.db.ExecContext(ctx, upsertProductQuery,
		record.SourceURL,
		title,
		fields,
		record.ScrapedAt)
	if err != nil {
		return err
	}
	pr.log.Debug("record saved to db.", slog.String("url", record.SourceURL))

	return nil
}

// Close is a no-op; the database connection is owned by the caller.
func (pr *ProductRepository) Close() error {
	return nil
}
