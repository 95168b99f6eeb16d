package model

import (
	"sync/atomic"
	"time"
)

type ScrapeMechanism int

const (
	Curl ScrapeMechanism = iota
	HeadlessBrowser
	CommonCrawl
)

func (sm ScrapeMechanism) String() string {
	return [...]string{"curl", "headless browser", "common crawl"}[sm]
}

type TaskKind int

const (
	ListingTask TaskKind = iota
	DetailTask
)

func (k TaskKind) String() string {
	return [...]string{"listing", "detail"}[k]
}

// Task is one unit of crawl work. Immutable once enqueued; consumed by
// exactly one worker.
type Task struct {
	URL       string   `json:"url"`
	Kind      TaskKind `json:"kind"`
	PageIndex int      `json:"page_index,omitempty"`
}

type FetchStatus int

const (
	FetchOK FetchStatus = iota
	FetchHTTPError
	FetchNetworkError
	FetchTimeout
)

func (s FetchStatus) String() string {
	return [...]string{"ok", "http error", "network error", "timeout"}[s]
}

// FetchResult carries the outcome of all attempts for one task. A failed
// result is terminal; the caller inspects Status instead of receiving an
// error.
type FetchResult struct {
	Task        *Task
	Body        string
	StatusCode  int
	Status      FetchStatus
	Attempts    int
	TimeToFetch int64 // in milliseconds
}

func (fr *FetchResult) OK() bool {
	return fr.Status == FetchOK
}

// Record is one extracted result destined for the sink. The pipeline never
// inspects field contents; SourceURL is the natural unique key.
type Record struct {
	Fields    map[string]any `json:"fields"`
	SourceURL string         `json:"source_url"`
	ScrapedAt time.Time      `json:"scraped_at"`
}

// PipelineStats counters are shared between the discoverer, the workers and
// the writer. Atomics only; never read-modify-write without them.
type PipelineStats struct {
	Attempted      atomic.Int64
	Succeeded      atomic.Int64
	Failed         atomic.Int64
	RecordsWritten atomic.Int64
}
