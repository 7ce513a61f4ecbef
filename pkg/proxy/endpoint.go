package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"galleryscraper/pkg/browser"
	"galleryscraper/pkg/logger"
)

// Protocol is a proxy scheme
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolSOCKS5 Protocol = "socks5"
)

// Endpoint is one egress proxy
type Endpoint struct {
	Host     string
	Port     int
	Protocol Protocol
	Username string
	Password string
}

// Key identifies the endpoint; credentials are not part of it
func (e Endpoint) Key() string {
	return fmt.Sprintf("%s://%s", e.Protocol, net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
}

// String returns the key so credentials never reach logs
func (e Endpoint) String() string {
	return e.Key()
}

// HasCredentials reports whether a username is set
func (e Endpoint) HasCredentials() bool {
	return e.Username != ""
}

// URL returns the endpoint as a URL including credentials
func (e Endpoint) URL() *url.URL {
	u := &url.URL{Scheme: string(e.Protocol), Host: net.JoinHostPort(e.Host, strconv.Itoa(e.Port))}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// Settings converts the endpoint for a browser profile
func (e Endpoint) Settings() *browser.ProxySettings {
	return &browser.ProxySettings{Server: e.Key(), Username: e.Username, Password: e.Password}
}

// HTTPClient returns a client whose requests egress through e
func (e Endpoint) HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(e.URL())},
	}
}

// ParseURI parses scheme://[user:pass@]host:port
func ParseURI(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("empty proxy uri")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse proxy uri: %w", err)
	}

	var e Endpoint
	switch Protocol(strings.ToLower(u.Scheme)) {
	case ProtocolHTTP:
		e.Protocol = ProtocolHTTP
	case ProtocolHTTPS:
		e.Protocol = ProtocolHTTPS
	case ProtocolSOCKS5, "socks5h":
		e.Protocol = ProtocolSOCKS5
	default:
		return Endpoint{}, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	e.Host = u.Hostname()
	if e.Host == "" {
		return Endpoint{}, fmt.Errorf("proxy uri %q has no host", raw)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("proxy uri %q has invalid port", raw)
	}
	e.Port = port

	if u.User != nil {
		e.Username = u.User.Username()
		e.Password, _ = u.User.Password()
	}
	return e, nil
}

// ParseList parses every URI, skipping invalid and duplicate entries
func ParseList(uris []string, log logger.Logger) []Endpoint {
	log = logger.OrDefault(log)
	seen := make(map[string]bool)

	var out []Endpoint
	for i, raw := range uris {
		e, err := ParseURI(raw)
		if err != nil {
			log.WarnWithFields("skipping proxy entry", map[string]interface{}{
				"index": i,
				"error": err.Error(),
			})
			continue
		}
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		out = append(out, e)
	}
	return out
}
