// Package clientip resolves the client identity used as the key for
// all per-client pipeline state.
package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Resolve extracts the client identity from the request. Precedence:
// first X-Forwarded-For entry, then X-Real-IP, then the RemoteAddr
// host. Resolution is pure and total: it never returns an empty
// string for a request with a non-empty RemoteAddr.
func Resolve(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsPrivate reports whether an identity names a private, loopback,
// link-local or IPv6 unique-local address. Such clients bypass geo
// policy entirely. Unparsable identities return false.
func IsPrivate(identity string) bool {
	addr, err := netip.ParseAddr(identity)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || isUniqueLocal(addr)
}

// isUniqueLocal reports fc00::/7 membership. netip.Addr.IsPrivate
// already covers it for IPv6, but the check is kept explicit so the
// policy survives stdlib behavior changes.
func isUniqueLocal(addr netip.Addr) bool {
	if !addr.Is6() || addr.Is4In6() {
		return false
	}
	b := addr.As16()
	return b[0]&0xfe == 0xfc
}
