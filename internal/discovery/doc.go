// Package discovery enumerates item links on a paginated or infinite-scroll
// listing page.
//
// Each step reads the page state (URL, item count). A repeated state ends
// the run unless the previous step was a successful control click. The
// engine first tries a "next" control, then load-more/pagination elements,
// and keeps a click only when it changed the URL or item count. Otherwise it
// scrolls to the bottom and, when the page does not grow, waits up to
// PatienceRounds for late content before concluding the end was reached.
// Links are merged into a models.LinkSet after every step that advanced.
package discovery
