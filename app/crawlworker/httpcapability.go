// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package crawlworker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/daterange"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/metrics"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/resultsstore"
)

// httpItem is the wire shape returned by the crawl HTTP capability for
// one matched document.
type httpItem struct {
	FullText  string    `json:"full_text"`
	CreatedAt time.Time `json:"created_at"`
}

type httpResponse struct {
	Data []httpItem `json:"data"`
}

// HTTPCapability invokes a crawl HTTP endpoint through a circuit breaker,
// tripping after repeated transport failures so a misbehaving upstream
// cannot stall every worker instance indefinitely.
type HTTPCapability struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	baseURL string
}

// NewHTTPCapability builds an HTTPCapability targeting baseURL, with
// requests timing out after timeout and the breaker tripping after 3
// consecutive failures, staying open for breakerTimeout.
func NewHTTPCapability(baseURL string, timeout, breakerTimeout time.Duration, breakerMaxRequests uint32) *HTTPCapability {
	client := resty.New().SetTimeout(timeout)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "crawl-capability",
		MaxRequests: breakerMaxRequests,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &HTTPCapability{client: client, breaker: breaker, baseURL: baseURL}
}

// Crawl fetches up to targetCount matching documents for keyword within
// r, using accessToken for upstream authorization.
func (h *HTTPCapability) Crawl(ctx context.Context, accessToken, keyword string, r daterange.Range, targetCount int) ([]resultsstore.CrawledRecord, error) {
	result, err := h.breaker.Execute(func() (interface{}, error) {
		res, reqErr := h.client.R().
			SetContext(ctx).
			SetAuthToken(accessToken).
			SetQueryParams(map[string]string{
				"keyword":      keyword,
				"start":        r.Start.Format(daterange.Layout),
				"end":          r.End.Format(daterange.Layout),
				"target_count": fmt.Sprintf("%d", targetCount),
			}).
			SetResult(&httpResponse{}).
			Get(h.baseURL)

		if reqErr != nil {
			return nil, fmt.Errorf("crawlworker: crawl request failed: %w", reqErr)
		}
		if res.StatusCode() != 200 {
			return nil, fmt.Errorf("crawlworker: crawl request returned status %d", res.StatusCode())
		}

		return res.Result().(*httpResponse), nil
	})

	if err != nil {
		outcome := "error"
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			outcome = "breaker_open"
		}
		metrics.CrawlInvocationsTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}
	metrics.CrawlInvocationsTotal.WithLabelValues("ok").Inc()

	parsed := result.(*httpResponse)
	records := make([]resultsstore.CrawledRecord, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		records = append(records, resultsstore.CrawledRecord{
			Keyword:   keyword,
			FullText:  item.FullText,
			CreatedAt: item.CreatedAt,
		})
	}

	return records, nil
}
