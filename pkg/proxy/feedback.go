package proxy

import (
	stderrors "errors"

	errs "galleryscraper/pkg/errors"
)

// Recorder receives per-endpoint outcomes
type Recorder interface {
	RecordSuccess(e Endpoint)
	RecordFailure(e Endpoint)
}

// Report classifies a navigation result made through e. Transport errors,
// timeouts, 429 and 403 count against the endpoint; any other HTTP
// response means the endpoint delivered. Unclassified errors such as
// cancellation are not reported. Fatal wrappers are looked through so an
// unreachable entry page still reaches the endpoint's health.
func Report(r Recorder, e Endpoint, err error) {
	if r == nil {
		return
	}
	err = unwrapFatal(err)
	switch errs.TypeOf(err) {
	case errs.ErrorTypeNetwork, errs.ErrorTypeTimeout, errs.ErrorTypeRateLimit, errs.ErrorTypeForbidden:
		r.RecordFailure(e)
	default:
		if err == nil || errs.StatusOf(err) > 0 {
			r.RecordSuccess(e)
		}
	}
}

func unwrapFatal(err error) error {
	for {
		var classified *errs.Error
		if !stderrors.As(err, &classified) || classified.Type != errs.ErrorTypeFatal || classified.Cause == nil {
			return err
		}
		err = classified.Cause
	}
}
