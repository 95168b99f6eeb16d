package fetcher

import (
	"context"
	"errors"
	"strings"

	"github.com/IliaW/catalog-crawl-worker/config"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
	"github.com/gocolly/colly"
)

// CurlMechanism loads a page with a plain HTTP GET through a colly
// collector. A fresh collector per load keeps the mechanism stateless.
type CurlMechanism struct {
	cfg *config.WorkerConfig
}

func NewCurlMechanism(cfg *config.WorkerConfig) *CurlMechanism {
	return &CurlMechanism{cfg: cfg}
}

func (m *CurlMechanism) Name() string {
	return model.Curl.String()
}

func (m *CurlMechanism) Load(_ context.Context, url string) (string, int, error) {
	c := colly.NewCollector()
	c.SetRequestTimeout(m.cfg.ScrapeTimeout)
	c.UserAgent = m.cfg.UserAgent

	var body string
	var statusCode int
	var netErr error
	c.OnResponse(func(resp *colly.Response) {
		body = string(resp.Body)
		statusCode = resp.StatusCode
	})
	c.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode != 0 {
			statusCode = resp.StatusCode
			body = string(resp.Body)
		} else {
			netErr = err
		}
	})

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	visitErr := c.Visit(url)
	if netErr != nil {
		return "", 0, netErr
	}
	if statusCode == 0 {
		if visitErr != nil {
			return "", 0, visitErr
		}
		return "", 0, errors.New("no response received")
	}

	return body, statusCode, nil
}
