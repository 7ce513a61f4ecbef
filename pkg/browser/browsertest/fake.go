// Package browsertest provides an in-memory browser.Opener for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"galleryscraper/pkg/browser"
)

// Response is one scripted navigation outcome
type Response struct {
	Status int
	Err    error
	// Panic makes Navigate panic with this value
	Panic string
}

// Evaluator answers Evaluate calls for the page at url
type Evaluator func(url, script string) (any, error)

// Site is a fake web shared by every session opened from the same Opener
type Site struct {
	mu        sync.Mutex
	responses map[string][]Response
	pages     map[string]string
	visits    map[string]int
	order     []string
	evaluator Evaluator
	onClick   func(s *Session, selector string) error
}

// NewSite creates an empty site where every URL answers 200
func NewSite() *Site {
	return &Site{
		responses: make(map[string][]Response),
		pages:     make(map[string]string),
		visits:    make(map[string]int),
	}
}

// Respond queues outcomes for url; the last one repeats once exhausted
func (s *Site) Respond(url string, responses ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[url] = append(s.responses[url], responses...)
}

// SetPage sets the HTML returned for url
func (s *Site) SetPage(url, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = html
}

// SetEvaluator overrides script evaluation
func (s *Site) SetEvaluator(fn Evaluator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluator = fn
}

// OnClick sets the click handler
func (s *Site) OnClick(fn func(s *Session, selector string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClick = fn
}

// Visits returns how many times url was navigated to
func (s *Site) Visits(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visits[url]
}

// Navigations returns every navigated URL in order
func (s *Site) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *Site) next(url string) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.visits[url]++
	s.order = append(s.order, url)

	queue := s.responses[url]
	if len(queue) == 0 {
		return Response{Status: 200}
	}
	r := queue[0]
	if len(queue) > 1 {
		s.responses[url] = queue[1:]
	}
	return r
}

// Opener opens fake sessions on a Site
type Opener struct {
	Site *Site
	// OpenErr is returned by Open when set
	OpenErr error
	// CloseErr is returned by every session's Close
	CloseErr error

	mu       sync.Mutex
	sessions []*Session
	profiles []browser.Profile
}

// NewOpener creates an opener on site
func NewOpener(site *Site) *Opener {
	return &Opener{Site: site}
}

// Open creates a session
func (o *Opener) Open(ctx context.Context, profile browser.Profile) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	s := &Session{site: o.Site, closeErr: o.CloseErr, Profile: profile}
	o.sessions = append(o.sessions, s)
	o.profiles = append(o.profiles, profile)
	return s, nil
}

// Sessions returns every session opened so far
func (o *Opener) Sessions() []*Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Session(nil), o.sessions...)
}

// Profiles returns the profiles sessions were opened with
func (o *Opener) Profiles() []browser.Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]browser.Profile(nil), o.profiles...)
}

// OpenCount returns how many sessions were opened
func (o *Opener) OpenCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// ClosedCount returns how many sessions were closed
func (o *Opener) ClosedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range o.sessions {
		if s.Closed() {
			n++
		}
	}
	return n
}

// Session is a fake browser.Session
type Session struct {
	Profile browser.Profile

	site     *Site
	closeErr error

	mu     sync.Mutex
	url    string
	closed bool
	clicks []string
}

// Navigate consumes the next scripted response for url
func (s *Session) Navigate(ctx context.Context, url string, opts browser.NavigateOptions) (browser.ResponseMeta, error) {
	if err := s.check(ctx); err != nil {
		return browser.ResponseMeta{}, err
	}

	r := s.site.next(url)
	if r.Panic != "" {
		panic(r.Panic)
	}
	if r.Err != nil {
		return browser.ResponseMeta{}, r.Err
	}

	s.SetURL(url)
	if s.Profile.Observer != nil && s.Profile.Observer.Match(url) {
		s.site.mu.Lock()
		body := s.site.pages[url]
		s.site.mu.Unlock()
		s.Profile.Observer.Observe(url, []byte(body))
	}
	return browser.ResponseMeta{Status: r.Status, URL: url}, nil
}

// Evaluate answers from the site's evaluator or built-in scripts
func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	url := s.URL()

	s.site.mu.Lock()
	eval := s.site.evaluator
	page := s.site.pages[url]
	s.site.mu.Unlock()

	var value any
	switch {
	case eval != nil:
		v, err := eval(url, script)
		if err != nil {
			return err
		}
		value = v
	case script == browser.OuterHTMLScript:
		value = page
	case script == browser.CurrentURLScript:
		value = url
	}

	if out == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode fake result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// WaitFor always succeeds on an open session
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return s.check(ctx)
}

// Click records the selector and calls the site's click handler
func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.clicks = append(s.clicks, selector)
	s.mu.Unlock()

	s.site.mu.Lock()
	handler := s.site.onClick
	s.site.mu.Unlock()
	if handler != nil {
		return handler(s, selector)
	}
	return nil
}

// Close marks the session closed
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

// Closed reports whether Close was called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// URL returns the current location
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// SetURL changes the current location without navigating
func (s *Session) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
}

// Clicks returns clicked selectors in order
func (s *Session) Clicks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

func (s *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.ErrSessionClosed
	}
	return nil
}
