// Package normalize turns raw page fragments into ExtractionRecord fields.
//
// Normalize is pure. Every value passes through Sanitize, which strips markup
// and rejects injection markers, UI chrome strings, and over-long or
// multi-line text, returning "" for anything absent or rejected.
package normalize
