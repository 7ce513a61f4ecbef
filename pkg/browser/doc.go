// Package browser defines the contract the scraper needs from a headless
// browser: open a session with an anti-detection profile, navigate, evaluate
// scripts, wait for selectors, click, and close.
//
// rodsession provides the go-rod implementation; browsertest provides a
// scriptable in-memory fake for tests.
package browser
