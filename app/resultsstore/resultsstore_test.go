// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package resultsstore

import (
	"testing"

	"go.mongodb.org/mongo-driver/mongo"
)

func TestKeywordPatternJoinsTokensWithPipe(t *testing.T) {
	got := keywordPattern("golang rust")
	want := "golang|rust"
	if got != want {
		t.Fatalf("keywordPattern() = %q, want %q", got, want)
	}
}

func TestKeywordPatternEscapesRegexMetacharacters(t *testing.T) {
	got := keywordPattern("c++ golang")
	want := "c\\+\\+|golang"
	if got != want {
		t.Fatalf("keywordPattern() = %q, want %q", got, want)
	}
}

func TestAllDuplicateKeyErrorsAllDuplicates(t *testing.T) {
	bwe := mongo.BulkWriteException{
		WriteErrors: []mongo.BulkWriteError{
			{WriteError: mongo.WriteError{Code: 11000}},
			{WriteError: mongo.WriteError{Code: 11000}},
		},
	}
	if !allDuplicateKeyErrors(bwe) {
		t.Fatal("allDuplicateKeyErrors() = false, want true")
	}
}

func TestAllDuplicateKeyErrorsMixedFailure(t *testing.T) {
	bwe := mongo.BulkWriteException{
		WriteErrors: []mongo.BulkWriteError{
			{WriteError: mongo.WriteError{Code: 11000}},
			{WriteError: mongo.WriteError{Code: 121}},
		},
	}
	if allDuplicateKeyErrors(bwe) {
		t.Fatal("allDuplicateKeyErrors() = true, want false for a non-duplicate-key error")
	}
}

func TestIdsFromNilResult(t *testing.T) {
	if got := idsFrom(nil); got != nil {
		t.Fatalf("idsFrom(nil) = %v, want nil", got)
	}
}
