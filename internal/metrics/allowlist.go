package metrics

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
)

// AllowList is a set of networks permitted to scrape metrics.
// The zero value allows every client.
type AllowList struct {
	prefixes []netip.Prefix
}

// NewAllowList parses addresses and CIDR ranges. Entries that do not parse
// are logged and left out.
func NewAllowList(entries []string, logger *slog.Logger) AllowList {
	var l AllowList
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		prefix, err := parseAllowEntry(entry)
		if err != nil {
			logger.Warn("invalid entry in allowed_ips", "entry", entry, "error", err)
			continue
		}
		l.prefixes = append(l.prefixes, prefix)
	}
	return l
}

// A bare address becomes a single-host prefix
func parseAllowEntry(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}

	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Len returns the number of networks in the list
func (l AllowList) Len() int {
	return len(l.prefixes)
}

// Allows reports whether addr may access metrics
func (l AllowList) Allows(addr netip.Addr) bool {
	if len(l.prefixes) == 0 {
		return true
	}
	addr = addr.Unmap()
	for _, p := range l.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Middleware rejects clients outside the list with 403. It reads
// r.RemoteAddr, so place it after chi's middleware.RealIP when running
// behind a proxy.
func (l AllowList) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(l.prefixes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, ok := remoteAddr(r)
			if !ok {
				logger.Warn("could not parse client address", "remote_addr", r.RemoteAddr)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			if !l.Allows(addr) {
				logger.Warn("metrics access denied", "ip", addr.String())
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// remoteAddr accepts both host:port and the bare address RealIP leaves behind
func remoteAddr(r *http.Request) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr(), true
	}
	addr, err := netip.ParseAddr(r.RemoteAddr)
	return addr, err == nil
}
