// Package discoverer walks the paginated listing pages and feeds detail
// tasks into the work queue.
package discoverer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/IliaW/catalog-crawl-worker/config"
	"github.com/IliaW/catalog-crawl-worker/internal/extractor"
	"github.com/IliaW/catalog-crawl-worker/internal/fetcher"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
	"github.com/patrickmn/go-cache"
)

type Discoverer struct {
	TaskChan  chan<- *model.Task
	Fetcher   fetcher.Fetcher
	Extractor extractor.Extractor
	Cfg       *config.CrawlConfig
	Log       *slog.Logger
	Stats     *model.PipelineStats
	seen      *cache.Cache
}

func New(taskChan chan<- *model.Task, f fetcher.Fetcher, e extractor.Extractor,
	cfg *config.CrawlConfig, log *slog.Logger, stats *model.PipelineStats) *Discoverer {
	return &Discoverer{
		TaskChan:  taskChan,
		Fetcher:   f,
		Extractor: e,
		Cfg:       cfg,
		Log:       log,
		Stats:     stats,
		seen:      cache.New(cache.NoExpiration, 0),
	}
}

// Run walks the pagination of every seed. The eager strategy collects the
// full detail set before the first enqueue; lazy enqueues page by page
// while the workers are already running. The task channel is closed on
// return. An unreachable or unparsable first page is fatal; later pages
// only end the walk.
func (d *Discoverer) Run(ctx context.Context) error {
	defer close(d.TaskChan)
	eager := strings.EqualFold(d.Cfg.Strategy, "eager")

	var collected []string
	for _, seed := range d.seedURLs() {
		urls, err := d.walk(ctx, seed, eager)
		if err != nil {
			return err
		}
		collected = append(collected, urls...)
		if ctx.Err() != nil {
			break
		}
	}
	for _, u := range collected { // empty unless eager
		if !d.enqueueDetail(ctx, u) {
			break
		}
	}

	return nil
}

func (d *Discoverer) seedURLs() []string {
	seeds := make([]string, 0, len(d.Cfg.Seeds))
	base, err := url.Parse(d.Cfg.BaseURL)
	if err != nil {
		d.Log.Error("bad base url.", slog.String("url", d.Cfg.BaseURL),
			slog.String("err", err.Error()))
		return seeds
	}
	for _, s := range d.Cfg.Seeds {
		ref, err := url.Parse(s)
		if err != nil {
			d.Log.Warn("skipping bad seed.", slog.String("seed", s), slog.String("err", err.Error()))
			continue
		}
		seeds = append(seeds, base.ResolveReference(ref).String())
	}

	return seeds
}

// walk follows the next-page signal until it is absent, a page yields no
// new detail links, or MaxPages is reached, whichever comes first. Detail
// urls already seen in this run are skipped.
func (d *Discoverer) walk(ctx context.Context, seedURL string, eager bool) ([]string, error) {
	var collected []string
	pageURL := seedURL
	for pageIndex := 1; d.Cfg.MaxPages <= 0 || pageIndex <= d.Cfg.MaxPages; pageIndex++ {
		if ctx.Err() != nil {
			d.Log.Info("shutdown signal. stop discovering.")
			return collected, nil
		}
		task := &model.Task{URL: pageURL, Kind: model.ListingTask, PageIndex: pageIndex}
		d.Stats.Attempted.Add(1)
		result := d.Fetcher.Fetch(ctx, task)
		if !result.OK() {
			d.Stats.Failed.Add(1)
			if pageIndex == 1 {
				return collected, fmt.Errorf("first listing page unreachable: %s (%s)",
					pageURL, result.Status)
			}
			d.Log.Warn("listing page failed. stop the walk.", slog.String("url", pageURL),
				slog.String("status", result.Status.String()))
			break
		}
		listing, err := d.Extractor.ParseListing([]byte(result.Body), pageURL)
		if err != nil {
			d.Stats.Failed.Add(1)
			if pageIndex == 1 {
				return collected, fmt.Errorf("first listing page unparsable: %w", err)
			}
			d.Log.Warn("listing page unparsable. stop the walk.", slog.String("url", pageURL),
				slog.String("err", err.Error()))
			break
		}
		d.Stats.Succeeded.Add(1)

		fresh := 0
		for _, u := range listing.DetailURLs {
			if _, dup := d.seen.Get(u); dup {
				continue
			}
			d.seen.Set(u, struct{}{}, cache.NoExpiration)
			fresh++
			if eager {
				collected = append(collected, u)
			} else if !d.enqueueDetail(ctx, u) {
				return collected, nil
			}
		}
		d.Log.Debug("listing page discovered.", slog.Int("page", pageIndex),
			slog.Int("new_links", fresh))
		if fresh == 0 {
			d.Log.Info("no new detail links. stop the walk.", slog.String("url", pageURL))
			break
		}
		if listing.NextPageURL == "" {
			break
		}
		pageURL = listing.NextPageURL
	}

	return collected, nil
}

func (d *Discoverer) enqueueDetail(ctx context.Context, u string) bool {
	select {
	case d.TaskChan <- &model.Task{URL: u, Kind: model.DetailTask}:
		return true
	case <-ctx.Done():
		d.Log.Info("shutdown signal. stop enqueueing tasks.")
		return false
	}
}
