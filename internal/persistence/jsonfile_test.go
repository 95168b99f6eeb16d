package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/IliaW/catalog-crawl-worker/config"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"
)

func TestJSONFileSinkWritesAllRecordsOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.json")
	sink := NewJSONFileSink(&config.SinkConfig{FilePath: path}, discardLogger())

	require.NoError(t, sink.Insert(context.Background(), testRecord(1)))
	require.NoError(t, sink.Insert(context.Background(), testRecord(2)))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err)) // nothing hits the disk before the drain completes
	require.NoError(t, sink.Close())

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []*model.Record
	require.NoError(t, jsoniter.Unmarshal(body, &records))
	require.Len(t, records, 2)
	require.Equal(t, "book 1", records[0].Fields["title"])
	require.Equal(t, "https://shop.test/items/2.html", records[1].SourceURL)
}

func TestJSONFileSinkEmptyRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	sink := NewJSONFileSink(&config.SinkConfig{FilePath: path}, discardLogger())
	require.NoError(t, sink.Close())

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []*model.Record
	require.NoError(t, jsoniter.Unmarshal(body, &records))
	require.Empty(t, records)
}
