// Package models defines the data passed between discovery, extraction and
// the retry scheduler: discovered links, extraction and failure records, and
// job run state.
package models
