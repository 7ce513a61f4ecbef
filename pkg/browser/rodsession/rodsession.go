// Package rodsession implements browser.Opener on go-rod with the go-rod/stealth
// evasions applied to every page.
package rodsession

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"galleryscraper/pkg/browser"
	"galleryscraper/pkg/logger"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	requestIdleWindow        = 500 * time.Millisecond
)

// Opener launches one local Chromium per session so each session can carry
// its own proxy.
type Opener struct {
	logger logger.Logger
}

// New creates an Opener
func New(log logger.Logger) *Opener {
	return &Opener{logger: logger.OrDefault(log)}
}

// Open launches a browser and prepares a stealth page per profile
func (o *Opener) Open(ctx context.Context, profile browser.Profile) (browser.Session, error) {
	l := launcher.New().Headless(profile.Headless).Leakless(false)
	if profile.BinaryPath != "" {
		l = l.Bin(profile.BinaryPath)
	}
	if profile.Proxy != nil && profile.Proxy.Server != "" {
		l = l.Proxy(profile.Proxy.Server)
	}

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	pageCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		launcher: l,
		browser:  b,
		cancel:   cancel,
		logger:   o.logger,
	}

	if profile.Proxy != nil && profile.Proxy.Username != "" {
		if err := s.handleProxyAuth(pageCtx, profile.Proxy.Username, profile.Proxy.Password); err != nil {
			s.Close()
			return nil, err
		}
	}

	page, err := stealth.Page(b)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create stealth page: %w", err)
	}
	s.page = page.Context(pageCtx)

	if err := s.applyProfile(profile); err != nil {
		s.Close()
		return nil, err
	}
	if profile.Observer != nil {
		if err := s.observe(profile.Observer); err != nil {
			s.Close()
			return nil, err
		}
	}

	o.logger.DebugWithFields("browser session opened", map[string]interface{}{
		"headless": profile.Headless,
		"proxy":    profile.Proxy != nil,
	})
	return s, nil
}

// Session is a browser.Session over a single rod page
type Session struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	cancel   context.CancelFunc
	logger   logger.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *Session) applyProfile(profile browser.Profile) error {
	if profile.UserAgent != "" {
		if err := s.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: profile.UserAgent}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}
	if profile.ViewportWidth > 0 && profile.ViewportHeight > 0 {
		if err := s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             profile.ViewportWidth,
			Height:            profile.ViewportHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	if len(profile.Headers) > 0 {
		dict := make([]string, 0, len(profile.Headers)*2)
		for k, v := range profile.Headers {
			dict = append(dict, k, v)
		}
		if _, err := s.page.SetExtraHeaders(dict); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}
	return nil
}

// observe forwards bodies of matching responses once they finish loading
func (s *Session) observe(observer browser.ResponseObserver) error {
	if err := (proto.NetworkEnable{}).Call(s.page); err != nil {
		return fmt.Errorf("enable network events: %w", err)
	}

	var mu sync.Mutex
	pending := make(map[proto.NetworkRequestID]string)

	wait := s.page.EachEvent(
		func(e *proto.NetworkResponseReceived) {
			if e.Response == nil || !observer.Match(e.Response.URL) {
				return
			}
			mu.Lock()
			pending[e.RequestID] = e.Response.URL
			mu.Unlock()
		},
		func(e *proto.NetworkLoadingFinished) {
			mu.Lock()
			url, ok := pending[e.RequestID]
			delete(pending, e.RequestID)
			mu.Unlock()
			if !ok {
				return
			}

			res, err := proto.NetworkGetResponseBody{RequestID: e.RequestID}.Call(s.page)
			if err != nil {
				s.logger.DebugWithFields("response body unavailable", map[string]interface{}{
					"url":   url,
					"error": err.Error(),
				})
				return
			}
			body := []byte(res.Body)
			if res.Base64Encoded {
				decoded, err := base64.StdEncoding.DecodeString(res.Body)
				if err != nil {
					return
				}
				body = decoded
			}
			observer.Observe(url, body)
		},
	)
	go wait()
	return nil
}

// handleProxyAuth keeps request interception on for the whole session:
// every paused request is continued and every auth challenge answered, so
// requests after credentials are cached never stay paused.
func (s *Session) handleProxyAuth(ctx context.Context, username, password string) error {
	b := s.browser.Context(ctx)
	if err := (proto.FetchEnable{HandleAuthRequests: true}).Call(b); err != nil {
		return fmt.Errorf("enable proxy auth: %w", err)
	}

	wait := b.EachEvent(
		func(e *proto.FetchRequestPaused) {
			if err := (proto.FetchContinueRequest{RequestID: e.RequestID}).Call(b); err != nil && ctx.Err() == nil {
				s.logger.DebugWithFields("continue paused request failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		},
		func(e *proto.FetchAuthRequired) {
			if err := (proto.FetchContinueWithAuth{
				RequestID:             e.RequestID,
				AuthChallengeResponse: authResponse(e.AuthChallenge, username, password),
			}).Call(b); err != nil && ctx.Err() == nil {
				s.logger.DebugWithFields("answer auth challenge failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		},
	)
	go wait()
	return nil
}

// authResponse answers proxy challenges with the session credentials and
// leaves origin challenges to the page
func authResponse(challenge *proto.FetchAuthChallenge, username, password string) *proto.FetchAuthChallengeResponse {
	if challenge != nil && challenge.Source == proto.FetchAuthChallengeSourceServer {
		return &proto.FetchAuthChallengeResponse{Response: proto.FetchAuthChallengeResponseResponseDefault}
	}
	return &proto.FetchAuthChallengeResponse{
		Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
		Username: username,
		Password: password,
	}
}

// Navigate loads url and reports the main document status
func (s *Session) Navigate(ctx context.Context, url string, opts browser.NavigateOptions) (browser.ResponseMeta, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page := s.page.Context(navCtx)

	var status int
	var finalURL string
	waitDocument := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return false
		}
		status = e.Response.Status
		finalURL = e.Response.URL
		return true
	})

	if err := page.Navigate(url); err != nil {
		return browser.ResponseMeta{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	waitDocument()
	if err := navCtx.Err(); err != nil {
		return browser.ResponseMeta{}, fmt.Errorf("navigate %s: %w", url, err)
	}

	switch opts.Wait {
	case browser.WaitLoad:
		if err := page.WaitLoad(); err != nil {
			return browser.ResponseMeta{Status: status, URL: finalURL}, fmt.Errorf("wait load: %w", err)
		}
	case browser.WaitNetworkIdle:
		page.WaitRequestIdle(requestIdleWindow, nil, nil, nil)()
	}

	return browser.ResponseMeta{Status: status, URL: finalURL}, nil
}

// Evaluate runs a function expression and decodes its JSON result into out
func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	res, err := s.page.Context(ctx).Evaluate(rod.Eval(script).ByPromise())
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

// WaitFor blocks until selector matches an element or timeout elapses
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	page := s.page.Context(ctx)
	if timeout > 0 {
		page = page.Timeout(timeout)
	}
	if _, err := page.Element(selector); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// Click scrolls the first element matching selector into view and clicks it
func (s *Session) Click(ctx context.Context, selector string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find %q: %w", selector, err)
	}
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scroll %q into view: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// Close shuts the page, the browser and the launched process
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.page != nil {
			_ = s.page.Close()
		}
		s.closeErr = s.browser.Close()
		s.launcher.Kill()
	})
	return s.closeErr
}
