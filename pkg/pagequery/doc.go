// Package pagequery holds the page-level extraction strategies: ordered
// goquery passes over a detail page that yield label/value pairs, title and
// caption candidates, tags and embedded JSON metadata, plus the gallery link
// collector used during discovery.
package pagequery
