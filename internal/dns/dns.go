package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// publicDNS are servers queried when the system resolver fails.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
	"208.67.220.220",         // Cisco OpenDNS
}

type lookupFunc func(ctx context.Context, host string) ([]string, error)

// Resolver resolves relay hostnames, racing public DNS servers when the
// system resolver cannot answer.
type Resolver struct {
	LocalTimeout time.Duration
	RaceTimeout  time.Duration

	servers []string
	local   lookupFunc
	via     func(server string) lookupFunc
}

// NewResolver returns a resolver using the system resolver and the built-in public servers.
func NewResolver() *Resolver {
	return &Resolver{
		LocalTimeout: 1 * time.Second,
		RaceTimeout:  2 * time.Second,
		servers:      publicDNS,
		local:        (&net.Resolver{}).LookupHost,
		via:          publicLookup,
	}
}

// Lookup resolves host to a single IP address, preferring IPv4.
// IP literals are returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(trimBrackets(host)); ip != nil {
		return ip.String(), nil
	}

	localCtx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ips, err := r.local(localCtx, host)
	cancel()
	if err == nil && len(ips) > 0 {
		return preferIPv4(ips), nil
	}
	zap.L().Debug("system DNS lookup failed, racing public resolvers", zap.String("host", host), zap.Error(err))

	return r.race(ctx, host)
}

// race returns the first successful answer from the public servers.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	if len(r.servers) == 0 {
		return "", fmt.Errorf("failed to resolve %s: no public DNS servers configured", host)
	}

	type result struct {
		ips []string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.RaceTimeout)
	defer cancel()

	results := make(chan result, len(r.servers))
	for _, server := range r.servers {
		go func(lookup lookupFunc) {
			ips, err := lookup(ctx, host)
			results <- result{ips: ips, err: err}
		}(r.via(server))
	}

	var errs []error
	for range r.servers {
		select {
		case res := <-results:
			if res.err == nil && len(res.ips) > 0 {
				return preferIPv4(res.ips), nil
			}
			if res.err == nil {
				res.err = errors.New("no addresses returned")
			}
			errs = append(errs, res.err)
		case <-ctx.Done():
			return "", fmt.Errorf("DNS lookup for %s timed out during public DNS race", host)
		}
	}

	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed: %w", host, len(errs), errors.Join(errs...))
}

// DialContext resolves the host part of addr with Lookup before dialing.
// It fits websocket.Dialer.NetDialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}

	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

// publicLookup queries one DNS server directly on port 53.
func publicLookup(server string) lookupFunc {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
		},
	}
	return r.LookupHost
}

func preferIPv4(ips []string) string {
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip
		}
	}
	return ips[0]
}

func trimBrackets(host string) string {
	if len(host) > 1 && host[0] == '[' && host[len(host)-1] == ']' {
		return host[1 : len(host)-1]
	}
	return host
}
