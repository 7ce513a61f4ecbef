// Package capture keeps metadata payloads intercepted from in-flight network
// responses, keyed by item id, so extraction can merge them with page-level
// fields.
package capture
