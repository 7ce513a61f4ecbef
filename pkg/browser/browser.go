package browser

import (
	"context"
	"errors"
	"time"
)

// WaitCondition selects what Navigate waits for after the document response
type WaitCondition string

const (
	WaitNone        WaitCondition = ""
	WaitLoad        WaitCondition = "load"
	WaitNetworkIdle WaitCondition = "networkidle"
)

// OuterHTMLScript evaluates to the serialized document
const OuterHTMLScript = `() => document.documentElement.outerHTML`

// CurrentURLScript evaluates to the page's current location
const CurrentURLScript = `() => window.location.href`

// ErrSessionClosed is returned by operations on a closed session
var ErrSessionClosed = errors.New("browser session closed")

// NavigateOptions controls a single navigation
type NavigateOptions struct {
	Wait    WaitCondition
	Timeout time.Duration
}

// ResponseMeta describes the main document response. Status is 0 when the
// engine did not report one.
type ResponseMeta struct {
	Status int
	URL    string
}

// ProxySettings routes a session through an egress proxy
type ProxySettings struct {
	// Server is scheme://host:port
	Server   string
	Username string
	Password string
}

// ResponseObserver receives bodies of in-flight responses whose URL matches
type ResponseObserver interface {
	Match(url string) bool
	Observe(url string, body []byte)
}

// Profile carries the anti-detection defaults applied once when a session opens
type Profile struct {
	Headless       bool
	BinaryPath     string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Headers        map[string]string
	Proxy          *ProxySettings
	Observer       ResponseObserver
}

// Session is one automated browser page.
// Scripts passed to Evaluate are JavaScript function expressions; the
// returned value is JSON-decoded into out when out is non-nil.
type Session interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) (ResponseMeta, error)
	Evaluate(ctx context.Context, script string, out any) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	Close() error
}

// Opener creates sessions
type Opener interface {
	Open(ctx context.Context, profile Profile) (Session, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, profile Profile) (Session, error)

// Open calls f
func (f OpenerFunc) Open(ctx context.Context, profile Profile) (Session, error) {
	return f(ctx, profile)
}

// HTML returns the serialized document of s
func HTML(ctx context.Context, s Session) (string, error) {
	var html string
	if err := s.Evaluate(ctx, OuterHTMLScript, &html); err != nil {
		return "", err
	}
	return html, nil
}

// CurrentURL returns the location s currently displays
func CurrentURL(ctx context.Context, s Session) (string, error) {
	var href string
	if err := s.Evaluate(ctx, CurrentURLScript, &href); err != nil {
		return "", err
	}
	return href, nil
}

// CloseQuietly closes s and discards the error
func CloseQuietly(s Session) {
	if s == nil {
		return
	}
	defer func() { _ = recover() }()
	_ = s.Close()
}
