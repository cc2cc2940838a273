// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package resultsstore persists crawled records and answers coverage
// queries against them: given a keyword and a requested date window, it
// reports the min/max created_at of already-crawled matching records so
// the planner can treat that span as already covered.
package resultsstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/daterange"
)

// CrawledRecord is one crawled document. FullText is matched against a
// keyword-derived regex; CreatedAt is coerced to day granularity for
// coverage queries. ProjectID groups records for a given job's eventual
// publish to the downstream queue.
type CrawledRecord struct {
	ProjectID string    `bson:"project_id" json:"project_id"`
	Keyword   string    `bson:"keyword" json:"keyword"`
	FullText  string    `bson:"full_text" json:"full_text"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	Extra     bson.M    `bson:"extra,omitempty" json:"extra,omitempty"`
}

// Coverage is the min/max created_at of existing records matching a
// query, normalized to day granularity. Empty is true when no record
// matched.
type Coverage struct {
	Range daterange.Range
	Empty bool
}

// Store is the ResultsStore contract: append-only inserts tolerant of
// duplicates, and a coverage query over (keyword, window).
type Store interface {
	// InsertMany appends records, tolerating duplicate-key errors so a
	// partial retry never fails the whole batch. Returns the IDs of the
	// records actually inserted. An empty records slice is a no-op.
	InsertMany(ctx context.Context, records []CrawledRecord) ([]string, error)

	// Coverage reports the already-crawled created_at span for keyword
	// within req, or Empty=true if nothing matches.
	Coverage(ctx context.Context, keyword string, req daterange.Range) (Coverage, error)
}

type store struct {
	collection *mongo.Collection
}

// New builds a Store backed by collection.
func New(collection *mongo.Collection) Store {
	return &store{collection: collection}
}

// keywordPattern builds the case-insensitive regex the spec requires:
// keyword tokens joined by "|".
func keywordPattern(keyword string) string {
	tokens := strings.Fields(keyword)
	escaped := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		escaped = append(escaped, regexp.QuoteMeta(tok))
	}
	return strings.Join(escaped, "|")
}

func (s *store) InsertMany(ctx context.Context, records []CrawledRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = r
	}

	res, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		// Unordered inserts report bulk-write exceptions for individual
		// duplicates; everything that did succeed is still in res.
		bwe, ok := err.(mongo.BulkWriteException)
		if !ok {
			return nil, fmt.Errorf("resultsstore: insert many: %w", err)
		}
		if allDuplicateKeyErrors(bwe) {
			err = nil
		} else {
			return idsFrom(res), fmt.Errorf("resultsstore: insert many: %w", err)
		}
	}

	return idsFrom(res), err
}

func allDuplicateKeyErrors(bwe mongo.BulkWriteException) bool {
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}

func idsFrom(res *mongo.InsertManyResult) []string {
	if res == nil {
		return nil
	}
	ids := make([]string, 0, len(res.InsertedIDs))
	for _, id := range res.InsertedIDs {
		ids = append(ids, fmt.Sprintf("%v", id))
	}
	return ids
}

func (s *store) Coverage(ctx context.Context, keyword string, req daterange.Range) (Coverage, error) {
	filter := bson.M{
		"full_text": bson.M{"$regex": keywordPattern(keyword), "$options": "i"},
		"created_at": bson.M{
			"$gte": req.Start,
			"$lte": req.End.Add(24*time.Hour - time.Nanosecond),
		},
	}

	var oldest, newest struct {
		CreatedAt time.Time `bson:"created_at"`
	}

	err := s.collection.FindOne(ctx, filter, options.FindOne().SetSort(bson.M{"created_at": 1})).Decode(&oldest)
	if err == mongo.ErrNoDocuments {
		return Coverage{Empty: true}, nil
	}
	if err != nil {
		return Coverage{}, fmt.Errorf("resultsstore: coverage min: %w", err)
	}

	err = s.collection.FindOne(ctx, filter, options.FindOne().SetSort(bson.M{"created_at": -1})).Decode(&newest)
	if err != nil {
		return Coverage{}, fmt.Errorf("resultsstore: coverage max: %w", err)
	}

	r, err := daterange.New(oldest.CreatedAt, newest.CreatedAt)
	if err != nil {
		return Coverage{}, fmt.Errorf("resultsstore: coverage range: %w", err)
	}

	return Coverage{Range: r}, nil
}
