// internal/fetch/ssrf.go

package fetch

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Ports never fetched regardless of scheme: infrastructure services an
// attacker-supplied URL could probe through us.
var forbiddenPorts = map[int]struct{}{
	22: {}, 23: {}, 25: {}, 110: {}, 143: {}, 465: {}, 587: {},
	2375: {}, 2379: {}, 3306: {}, 5432: {}, 5900: {}, 6379: {},
	9200: {}, 11211: {}, 27017: {},
}

// Hostnames that always resolve inside.
var forbiddenHosts = map[string]struct{}{
	"localhost": {}, "metadata.google.internal": {},
}

// ValidateURL rejects URLs a fetch must never touch: non-http(s) schemes,
// loopback/private/link-local addresses, and infrastructure ports.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("unparseable URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("scheme %q is not allowed", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	if _, bad := forbiddenHosts[host]; bad {
		return fmt.Errorf("host %q is not allowed", host)
	}
	if strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") ||
		strings.HasSuffix(host, ".local") {
		return fmt.Errorf("host %q is not allowed", host)
	}

	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("invalid port %q", port)
		}
		if _, bad := forbiddenPorts[n]; bad {
			return fmt.Errorf("port %d is not allowed", n)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if err := validateIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// validateIP rejects addresses inside the perimeter.
func validateIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback address %s is not allowed", ip)
	case ip.IsPrivate():
		return fmt.Errorf("private address %s is not allowed", ip)
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local address %s is not allowed", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address %s is not allowed", ip)
	}
	return nil
}
