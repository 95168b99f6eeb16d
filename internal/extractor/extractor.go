// Package extractor turns fetched page bodies into detail links and
// records. Parsing is pure: identical bytes produce identical output, and
// malformed markup degrades to a ParseError value instead of a fault.
package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/IliaW/catalog-crawl-worker/internal/model"
	"github.com/PuerkitoBio/goquery"
)

type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

// Listing is the result of parsing one listing page: the detail links found
// on it and the next page, empty when the pagination ends.
type Listing struct {
	DetailURLs  []string
	NextPageURL string
}

type Extractor interface {
	ParseListing(body []byte, pageURL string) (*Listing, error)
	ParseDetail(body []byte, pageURL string) (*model.Record, error)
}

// CatalogExtractor understands the product catalog markup: product cards
// with a next-page link on listing pages, and the product page layout of a
// single item. All links are resolved against the page url.
type CatalogExtractor struct{}

func NewCatalogExtractor() *CatalogExtractor {
	return &CatalogExtractor{}
}

func (e *CatalogExtractor) ParseListing(body []byte, pageURL string) (*Listing, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, &ParseError{URL: pageURL, Reason: "bad page url: " + err.Error()}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: pageURL, Reason: err.Error()}
	}

	listing := &Listing{}
	doc.Find("article.product_pod h3 a").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			listing.DetailURLs = append(listing.DetailURLs, resolveRef(base, href))
		}
	})
	if href, ok := doc.Find("li.next a").First().Attr("href"); ok {
		listing.NextPageURL = resolveRef(base, href)
	}

	return listing, nil
}

func (e *CatalogExtractor) ParseDetail(body []byte, pageURL string) (*model.Record, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, &ParseError{URL: pageURL, Reason: "bad page url: " + err.Error()}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: pageURL, Reason: err.Error()}
	}

	title := strings.TrimSpace(doc.Find("div.product_main h1").First().Text())
	if title == "" {
		return nil, &ParseError{URL: pageURL, Reason: "missing title"}
	}
	price := strings.TrimSpace(doc.Find("p.price_color").First().Text())
	if price == "" {
		return nil, &ParseError{URL: pageURL, Reason: "missing price"}
	}

	rating := ""
	if class, ok := doc.Find("p.star-rating").First().Attr("class"); ok {
		rating = strings.TrimSpace(strings.ReplaceAll(class, "star-rating", ""))
	}
	stock := strings.TrimSpace(doc.Find("p.instock.availability").First().Text())
	imageURL := ""
	if src, ok := doc.Find("div.item.active img").First().Attr("src"); ok {
		imageURL = resolveRef(base, src)
	}
	description := strings.TrimSpace(doc.Find("#product_description ~ p").First().Text())
	category := strings.TrimSpace(doc.Find("ul.breadcrumb li:nth-child(3) a").First().Text())

	productInfo := make(map[string]string)
	doc.Find("table.table.table-striped tr").Each(func(_ int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find("th").First().Text())
		if key != "" {
			productInfo[key] = strings.TrimSpace(row.Find("td").First().Text())
		}
	})

	fields := map[string]any{
		"title":       title,
		"category":    category,
		"price":       price,
		"rating":      rating,
		"stock":       stock,
		"image_url":   imageURL,
		"description": description,
	}
	if len(productInfo) > 0 {
		fields["product_information"] = productInfo
	}

	return &model.Record{
		Fields:    fields,
		SourceURL: pageURL,
		ScrapedAt: time.Now().UTC(),
	}, nil
}

func resolveRef(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
