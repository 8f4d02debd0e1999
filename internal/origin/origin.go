// Package origin decides which network peers may talk to the relay at all.
// It is network-layer hygiene for a private overlay, not authentication.
package origin

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync/atomic"
)

// ErrUnknownOrigin marks a peer outside every allowed prefix.
var ErrUnknownOrigin = errors.New("unknown origin")

// DefaultPrefixes are the Tailscale overlay ranges.
var DefaultPrefixes = []string{"100.64.0.0/10", "fd7a:115c:a1e0::/48"}

// Validator accepts loopback peers and peers inside the configured prefixes.
// The prefix set can be swapped at runtime.
type Validator struct {
	prefixes atomic.Pointer[[]netip.Prefix]
}

func NewValidator(prefixes []string) (*Validator, error) {
	v := &Validator{}
	if err := v.SetPrefixes(prefixes); err != nil {
		return nil, err
	}
	return v, nil
}

// SetPrefixes replaces the allowed prefixes. A bare address is treated as a
// single-host prefix.
func (v *Validator) SetPrefixes(prefixes []string) error {
	parsed, err := ParsePrefixes(prefixes)
	if err != nil {
		return err
	}
	v.prefixes.Store(&parsed)
	return nil
}

// ParsePrefixes parses CIDR strings or bare addresses.
func ParsePrefixes(prefixes []string) ([]netip.Prefix, error) {
	parsed := make([]netip.Prefix, 0, len(prefixes))
	for _, raw := range prefixes {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("origin prefix %q: %w", raw, err)
			}
			parsed = append(parsed, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("origin prefix %q: %w", raw, err)
		}
		parsed = append(parsed, p.Masked())
	}
	return parsed, nil
}

// Accept reports whether remoteAddr ("host:port" or a bare host) may
// connect.
func (v *Validator) Accept(remoteAddr string) bool {
	addr, ok := parseRemote(remoteAddr)
	if !ok {
		return false
	}
	if addr.IsLoopback() {
		return true
	}
	for _, p := range *v.prefixes.Load() {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Check is Accept returning ErrUnknownOrigin.
func (v *Validator) Check(remoteAddr string) error {
	if v.Accept(remoteAddr) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownOrigin, remoteAddr)
}

func parseRemote(remoteAddr string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().Unmap(), true
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// Listener drops connections from rejected peers right after accept, before
// a single byte is read from them.
type Listener struct {
	net.Listener
	validator *Validator
	logger    *slog.Logger
}

func NewListener(inner net.Listener, v *Validator, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{Listener: inner, validator: v, logger: logger}
}

func (l *Listener) Accept() (net.Conn, error) {
	for {
		c, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		remote := c.RemoteAddr().String()
		if err := l.validator.Check(remote); err != nil {
			l.logger.Warn("rejected connection", "remote", remote, "err", err)
			c.Close()
			continue
		}
		return c, nil
	}
}
