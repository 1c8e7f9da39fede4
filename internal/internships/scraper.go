package internships

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const (
	defaultSearchTerm = "it sector"
	userAgent         = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// ErrScrape wraps every fetch failure.
var ErrScrape = errors.New("internships: scrape failed")

type Scraper struct {
	// BaseURL is the site root, without a trailing slash.
	BaseURL string
	Client  *http.Client
	Cache   *Cache
	// Limiter paces outbound page fetches.
	Limiter *rate.Limiter
	// Retry configures fetch retries on 5xx, 429 and transport errors.
	InitialInterval time.Duration
	MaxTries        uint
}

// NewScraper returns a Scraper allowing one request every two seconds.
// cache may be nil to disable caching.
func NewScraper(cache *Cache) *Scraper {
	return &Scraper{
		BaseURL:         siteURL,
		Client:          &http.Client{Timeout: 30 * time.Second},
		Cache:           cache,
		Limiter:         rate.NewLimiter(rate.Every(2*time.Second), 1),
		InitialInterval: time.Second,
		MaxTries:        3,
	}
}

// SearchURL is the keyword search page for company, or for "it sector" when
// company is empty.
func (s *Scraper) SearchURL(company string) string {
	term := strings.TrimSpace(company)
	if term == "" {
		term = defaultSearchTerm
	}
	return s.BaseURL + "/internships/keywords-" + url.PathEscape(term) + "/"
}

// Scrape lists internships for company, filtered to location when set.
func (s *Scraper) Scrape(ctx context.Context, company, location string) ([]Internship, error) {
	all, err := s.listings(ctx, company)
	if err != nil {
		return nil, err
	}
	return FilterLocation(all, location), nil
}

func (s *Scraper) listings(ctx context.Context, company string) ([]Internship, error) {
	target := s.SearchURL(company)
	key := cacheKey(target)
	if s.Cache != nil {
		if data, ok := s.Cache.Get(ctx, key); ok {
			var cached []Internship
			if json.Unmarshal(data, &cached) == nil {
				return cached, nil
			}
		}
	}

	list, err := s.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		if data, err := json.Marshal(list); err == nil {
			s.Cache.Set(ctx, key, data)
		}
	}
	return list, nil
}

func (s *Scraper) fetch(ctx context.Context, target string) ([]Internship, error) {
	operation := func() ([]Internship, error) {
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := s.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		defer resp.Body.Close()

		if retryableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		return Parse(resp.Body)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.InitialInterval
	bo.MaxInterval = 10 * time.Second

	tries := s.MaxTries
	if tries == 0 {
		tries = 1
	}
	list, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(tries), backoff.WithMaxElapsedTime(30*time.Second))
	if err != nil {
		log.Printf("internships: scrape %s: %v", target, err)
		return nil, fmt.Errorf("%w: %w", ErrScrape, err)
	}
	return list, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
