package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
	"github.com/stretchr/testify/require"
)

func TestProductRepositoryUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	record := &model.Record{
		Fields:    map[string]any{"title": "A Light in the Attic", "price": "£51.77"},
		SourceURL: "https://shop.test/items/1.html",
		ScrapedAt: time.Now().UTC(),
	}
	mock.ExpectExec("INSERT INTO products").
		WithArgs(record.SourceURL, "A Light in the Attic", sqlmock.AnyArg(), record.ScrapedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewProductRepository(db, discardLogger())
	require.NoError(t, repo.Insert(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepositoryInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO products").
		WillReturnError(errors.New("connection refused"))

	repo := NewProductRepository(db, discardLogger())
	err = repo.Insert(context.Background(), testRecord(1))
	require.Error(t, err)
}
