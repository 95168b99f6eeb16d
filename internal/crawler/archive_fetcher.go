package crawler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/IliaW/catalog-crawl-worker/config"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/karust/gogetcrawl/common"
	"github.com/karust/gogetcrawl/commoncrawl"
	"github.com/patrickmn/go-cache"
)

const indexListUrl = "https://index.commoncrawl.org/collinfo.json"

type Index struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	Timegate string `json:"timegate"`
	CdxAPI   string `json:"cdx-api"`
}

// ArchiveFetcher loads page bodies from the Common Crawl archive instead of
// hitting the site. Used as the fetch mechanism when live traffic to the
// catalog host is not wanted.
type ArchiveFetcher struct {
	crawler    *commoncrawl.CommonCrawl
	cfg        *config.CrawlerConfig
	log        *slog.Logger
	localCache *cache.Cache
}

func NewArchiveFetcher(cfg *config.CrawlerConfig, log *slog.Logger) *ArchiveFetcher {
	c, err := commoncrawl.New(cfg.RequestTimeout, cfg.Retries)
	if err != nil {
		log.Error("failed to create common crawl client", slog.String("err", err.Error()))
	}
	return &ArchiveFetcher{
		crawler:    c,
		cfg:        cfg,
		log:        log,
		localCache: cache.New(72*time.Hour, 72*time.Hour), // indexes update every month
	}
}

func (c *ArchiveFetcher) Name() string {
	return model.CommonCrawl.String()
}

// Load walks the most recent crawl indexes and returns the newest archived
// copy of the url.
func (c *ArchiveFetcher) Load(_ context.Context, url string) (string, int, error) {
	if c.crawler == nil { // due to request limitations, the crawler may not be initialized when the application starts
		c.log.Info("connection retry to common crawl.")
		var err error
		c.crawler, err = commoncrawl.New(c.cfg.RequestTimeout, c.cfg.Retries)
		if err != nil {
			c.log.Error("failed to create common crawl client", slog.String("err", err.Error()))
			return "", 0, errors.New("connection to common crawl failed")
		}
	}

	indexList, err := c.getIndexes()
	if err != nil {
		return "", 0, err
	}
	requestCfg := common.RequestConfig{
		URL:     url,
		Filters: []string{"statuscode:200", "mimetype:text/html"},
	}

	for i := 0; i < c.cfg.LastCrawlIndexes && i < len(indexList); i++ {
		pages, _ := c.crawler.GetPagesIndex(requestCfg, indexList[i].Id)
		if len(pages) == 0 {
			c.log.Debug("no archived copies found", slog.String("url", url),
				slog.String("index", indexList[i].Id))
			continue
		}
		resp, err := c.crawler.GetFile(pages[len(pages)-1]) // last one is the most recent
		if err != nil {
			c.log.Error("failed to get file", slog.String("err", err.Error()))
			break
		}
		body := string(resp)
		if html := extractHtml(&body); html != "" {
			return html, http.StatusOK, nil
		}
	}
	c.log.Info("no archived copies found", slog.String("url", url))

	return "", 0, errors.New("no archived copies found")
}

func (c *ArchiveFetcher) getIndexes() ([]Index, error) {
	if i, ok := c.localCache.Get("indexes"); ok {
		return i.([]Index), nil
	}

	response, err := common.Get(indexListUrl, c.crawler.MaxTimeout, c.crawler.MaxRetries)
	if err != nil {
		return nil, err
	}

	var indexes []Index
	err = jsoniter.Unmarshal(response, &indexes)
	if err != nil {
		return indexes, err
	}
	c.localCache.Set("indexes", indexes, cache.DefaultExpiration)

	return indexes, nil
}

func extractHtml(body *string) string {
	re := regexp.MustCompile(`(?si)<!doctype html>.*?</html>`)
	match := re.FindStringSubmatch(*body)

	if len(match) > 0 {
		return match[0]
	}
	return ""
}
