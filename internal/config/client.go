package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Default client configuration values.
const (
	DefaultRelayURL = "ws://localhost:5000/ws"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
)

// Client holds the CLI peer configuration.
type Client struct {
	// RelayURL is the websocket URL of the signaling relay.
	RelayURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	ForceRelay bool
}

// ClientOptions carries CLI flag overrides.
type ClientOptions struct {
	Relay      string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// LoadClient reads configuration with the following priority:
// 1. CLI flags (passed via ClientOptions) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func LoadClient(opts ClientOptions) (*Client, error) {
	relay := firstNonEmpty(opts.Relay, os.Getenv("CARECALL_RELAY_URL"), DefaultRelayURL)
	relayURL, err := normalizeRelayURL(relay)
	if err != nil {
		return nil, err
	}

	cfg := &Client{
		RelayURL:   relayURL,
		STUNServer: firstNonEmpty(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN),
		TURNServer: firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER")),
		TURNUser:   firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME")),
		TURNPass:   firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD")),
		ForceRelay: opts.ForceRelay,
	}

	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, fmt.Errorf("cannot force relay mode without a TURN server configured")
	}
	return cfg, nil
}

// normalizeRelayURL accepts a full ws(s) URL or a bare host, which becomes wss://host/ws.
func normalizeRelayURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = fmt.Sprintf("wss://%s/ws", strings.TrimSuffix(raw, "/"))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("relay URL must use ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay URL %q has no host", raw)
	}
	return u.String(), nil
}

// GetSTUNServers returns STUN server URLs, or nil when STUN is disabled.
func (c *Client) GetSTUNServers() []string {
	if c.STUNServer == "" || c.STUNServer == "none" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured.
func (c *Client) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password.
func (c *Client) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
