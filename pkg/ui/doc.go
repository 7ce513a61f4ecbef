// Package ui renders job progress in the terminal.
//
// Terminal implements the job-state sink (OnProgress, OnComplete, OnError)
// consumed by the orchestrator. Printer holds the one-line styled messages
// used by CLI subcommands. Both fall back to plain text when color is off.
package ui
