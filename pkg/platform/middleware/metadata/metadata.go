package metadata

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies lists the peer networks whose forwarding headers are
// honoured. An empty list trusts no one and the socket peer is the client.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies accepts CIDR ranges or bare addresses.
func ParseTrustedProxies(values []string) (TrustedProxies, error) {
	proxies := make(TrustedProxies, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !strings.Contains(v, "/") {
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			addr = addr.Unmap()
			proxies = append(proxies, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		proxies = append(proxies, prefix.Masked())
	}
	return proxies, nil
}

// Trusts reports whether addr falls inside one of the proxy ranges.
func (t TrustedProxies) Trusts(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range t {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the caller address used for rate-limit keys and audit
// records. Forwarding headers count only when the socket peer is a trusted
// proxy. X-Forwarded-For is walked from the right and the first hop that is
// not itself a trusted proxy wins; X-Real-IP is the fallback.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer, ok := remoteAddr(r.RemoteAddr)
	if !ok {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	if !t.Trusts(peer) {
		return peer.String()
	}

	hops := forwardedHops(r.Header.Values("X-Forwarded-For"))
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(hops[i])
		if err != nil {
			break
		}
		if !t.Trusts(addr) {
			return addr.Unmap().String()
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap().String()
	}
	return peer.String()
}

func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	return hops
}

func remoteAddr(raw string) (netip.Addr, bool) {
	host := raw
	if h, _, err := net.SplitHostPort(raw); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// Origin returns the request's Origin header, falling back to the scheme and
// host of Referer.
func Origin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	ref := r.Header.Get("Referer")
	if ref == "" {
		return ""
	}
	if i := strings.Index(ref, "://"); i != -1 {
		rest := ref[i+3:]
		if j := strings.IndexByte(rest, '/'); j != -1 {
			return ref[:i+3+j]
		}
	}
	return ref
}
