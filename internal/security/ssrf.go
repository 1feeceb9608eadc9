// Package security guards outbound HTTP fetches against SSRF: requests may
// only target public http/https endpoints, and the check is enforced again
// at dial time so a DNS answer cannot change between validation and connect.
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentkit/internal/domain"
)

// blockedNets holds every reserved range an agent tool must never reach:
// RFC1918, loopback, link-local, the zero net, and their IPv6 equivalents.
var blockedNets = func() []*net.IPNet {
	cidrs := []string{
		"0.0.0.0/8",
		"10.0.0.0/8",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	nets := make([]*net.IPNet, len(cidrs))
	for i, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("bad builtin CIDR %q: %v", cidr, err))
		}
		nets[i] = n
	}
	return nets
}()

func blocked(op, detail string) error {
	return domain.NewDomainError(op, domain.ErrSSRFBlocked, detail)
}

// ValidateURL rejects URLs that are not plain http/https or whose host is,
// or resolves to, a reserved address.
func ValidateURL(rawURL string) error {
	const op = "ValidateURL"

	u, err := url.Parse(rawURL)
	if err != nil {
		return blocked(op, fmt.Sprintf("invalid URL: %v", err))
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return blocked(op, "missing URL scheme, only http/https allowed")
	default:
		return blocked(op, fmt.Sprintf("scheme %q not allowed, only http/https", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return blocked(op, "empty hostname")
	}

	// Literal IP: no lookup needed.
	if ip := net.ParseIP(host); ip != nil {
		if IsPrivateIP(ip) {
			return blocked(op, fmt.Sprintf("IP %s is private/reserved", ip))
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return blocked(op, fmt.Sprintf("DNS lookup failed: %v", err))
	}
	for _, ip := range ips {
		if IsPrivateIP(ip) {
			return blocked(op, fmt.Sprintf("host %s resolves to private IP %s", host, ip))
		}
	}
	return nil
}

// IsPrivateIP reports whether ip falls in a blocked range. IPv4-mapped IPv6
// addresses are checked as IPv4.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// NewSSRFSafeTransport returns a transport whose dialer resolves the host
// itself, rejects any reserved answer, and connects to the exact IP it
// validated. Re-resolving in the dialer closes the rebinding window between
// ValidateURL and the actual connection.
func NewSSRFSafeTransport() *http.Transport {
	const op = "SSRFSafeTransport.Dial"
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address: %w", err)
			}

			answers, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, domain.NewDomainError(op, err, fmt.Sprintf("DNS lookup failed for %s", host))
			}
			if len(answers) == 0 {
				return nil, domain.NewDomainError(op, fmt.Errorf("no IPs resolved"), host)
			}
			for _, answer := range answers {
				if IsPrivateIP(answer.IP) {
					return nil, blocked(op, fmt.Sprintf("%s resolves to private IP %s", host, answer.IP))
				}
			}

			dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
			return dialer.DialContext(ctx, network, net.JoinHostPort(answers[0].IP.String(), port))
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
