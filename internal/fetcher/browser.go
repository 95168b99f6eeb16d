package fetcher

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/IliaW/catalog-crawl-worker/config"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// BrowserMechanism loads a page in a headless browser and returns the DOM
// after the networkIdle lifecycle event, so script-rendered listings are
// visible to the extractor.
type BrowserMechanism struct {
	cfg *config.WorkerConfig
	log *slog.Logger
}

func NewBrowserMechanism(cfg *config.WorkerConfig, log *slog.Logger) *BrowserMechanism {
	return &BrowserMechanism{cfg: cfg, log: log}
}

func (m *BrowserMechanism) Name() string {
	return model.HeadlessBrowser.String()
}

func (m *BrowserMechanism) Load(ctx context.Context, url string) (string, int, error) {
	tCtx, cancelTCtx := context.WithTimeout(ctx, m.cfg.ScrapeTimeout)
	defer cancelTCtx()
	bCtx, cancel := chromedp.NewContext(tCtx)
	defer cancel()

	statusCode := 0
	chromedp.ListenTarget(bCtx, func(event interface{}) {
		switch ev := event.(type) {
		case *network.EventResponseReceived:
			if ev.Response.URL == url {
				statusCode = int(ev.Response.Status)
			}
		case *network.EventRequestWillBeSent:
			if ev.RedirectResponse != nil {
				url = ev.Request.URL
				m.log.Info("redirected.", slog.String("url", ev.RedirectResponse.URL))
			}
		}
	})

	var html string
	err := chromedp.Run(bCtx,
		chromedp.Tasks{
			network.Enable(),
			network.SetExtraHTTPHeaders(map[string]interface{}{
				"User-Agent": m.cfg.UserAgent,
			}),
			enableLifeCycleEvents(),
			navigateAndWaitFor(url, "networkIdle"),
		},
		chromedp.ActionFunc(func(ctx context.Context) error {
			rootNode, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return "", 0, err
	}
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	return html, statusCode, nil
}

func enableLifeCycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		err = page.SetLifecycleEventsEnabled(true).Do(ctx)
		if err != nil {
			return err
		}
		return nil
	}
}

func navigateAndWaitFor(url string, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		_, _, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		return waitFor(ctx, eventName)
	}
}

func waitFor(ctx context.Context, eventName string) error {
	ch := make(chan struct{})
	cctx, cancel := context.WithCancel(ctx)
	chromedp.ListenTarget(cctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventLifecycleEvent:
			if e.Name == eventName {
				cancel()
				close(ch)
			}
		}
	})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
