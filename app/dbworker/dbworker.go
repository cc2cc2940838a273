// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package dbworker serves crawled-range coverage queries and persists
// crawled records on top of resultsstore.Store (§4.4). The reference
// models DBWorker as its own process accepting exactly one outstanding
// request at a time, rejecting the rest with SERVER_BUSY for the
// supervisor to reroute. Client reproduces that capacity limit directly
// as a bounded semaphore sized to the configured instance count, rather
// than routing the request through the envelope bus and back — the two
// "worker classes" share a process here, so there is no inter-process
// boundary for the busy policy to arbitrate across.
package dbworker

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/daterange"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/metrics"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/resultsstore"
)

// ErrBusy names the DBWorker busy rejection. Client never returns it: a
// request arriving while every slot is occupied waits for a free slot (or
// for ctx to end) instead of being rejected.
var ErrBusy = errors.New("dbworker: busy")

// Client is the DBWorker operation surface.
type Client interface {
	// GetCrawledData returns the coverage window for keyword within r.
	GetCrawledData(ctx context.Context, keyword string, r daterange.Range) (resultsstore.Coverage, error)

	// CreateNewData inserts records for projectID, tolerating duplicates.
	// An empty records slice is a no-op returning no IDs and no error.
	CreateNewData(ctx context.Context, projectID string, records []resultsstore.CrawledRecord) ([]string, error)
}

type client struct {
	store resultsstore.Store
	slots chan struct{}
}

// New builds a Client with capacity concurrent outstanding requests,
// mirroring one DBWorker class configured with `count: capacity`
// instances. capacity < 1 is treated as 1.
func New(store resultsstore.Store, capacity int) Client {
	if capacity < 1 {
		capacity = 1
	}
	return &client{store: store, slots: make(chan struct{}, capacity)}
}

func (c *client) acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
		return nil
	default:
	}

	metrics.DBWorkerQueueDepth.Inc()
	defer metrics.DBWorkerQueueDepth.Dec()

	select {
	case c.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) release() {
	<-c.slots
}

func (c *client) GetCrawledData(ctx context.Context, keyword string, r daterange.Range) (resultsstore.Coverage, error) {
	if err := c.acquire(ctx); err != nil {
		return resultsstore.Coverage{}, err
	}
	defer c.release()

	return c.store.Coverage(ctx, keyword, r)
}

func (c *client) CreateNewData(ctx context.Context, projectID string, records []resultsstore.CrawledRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	for i := range records {
		records[i].ProjectID = projectID
	}

	return c.store.InsertMany(ctx, records)
}

// KeywordFilter builds the case-insensitive, whitespace-token regex used
// to filter full_text against keyword, matching the filter CrawlWorker
// applies to raw crawl results.
func KeywordFilter(keyword string) *regexp.Regexp {
	tokens := strings.Fields(keyword)
	escaped := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		escaped = append(escaped, regexp.QuoteMeta(tok))
	}
	return regexp.MustCompile("(?i)" + strings.Join(escaped, "|"))
}
