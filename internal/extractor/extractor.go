// Package extractor fetches one HTML page and lists the images it references.
package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/imgrab/internal/utils"
)

type Extractor struct {
	client utils.HTTPDoer
}

// New expects a client that follows redirects.
func New(client utils.HTTPDoer) *Extractor {
	return &Extractor{client: client}
}

// ImageURLs fetches pageURL and returns the absolute URL of every img src on
// it, in document order. Duplicates are kept.
func (e *Extractor) ImageURLs(ctx context.Context, pageURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating page request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("error fetching page: %w", &utils.BadStatusError{URL: pageURL, StatusCode: resp.StatusCode})
	}
	// relative references resolve against where the redirects ended up
	base := resp.Request.URL
	urls, err := ExtractImageURLs(resp.Body, base)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("op", "extractor").Str("page", base.String()).Int("images", len(urls)).Msg("Extracted image links")
	return urls, nil
}

func ExtractImageURLs(r io.Reader, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("error parsing page: %w", err)
	}
	var urls []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		resolved, ok := resolve(base, src)
		if !ok {
			log.Debug().Str("op", "extractor").Msgf("Ignoring image source %q", src)
			return
		}
		urls = append(urls, resolved)
	})
	return urls, nil
}

// resolve keeps absolute http(s) sources, gives protocol-relative ones the
// page scheme and roots everything else at the page's scheme and host.
func resolve(base *url.URL, src string) (string, bool) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", false
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", false
	}
	switch ref.Scheme {
	case "http", "https":
		if ref.Host == "" {
			return "", false
		}
		return ref.String(), true
	case "":
	default:
		// data:, javascript: and friends have nothing to download
		return "", false
	}
	root := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}
	return root.ResolveReference(ref).String(), true
}
