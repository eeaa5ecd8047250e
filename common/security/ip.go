package security

import (
	"fmt"
	"net"
	"strings"
)

// IPValidator rejects hosts that point into internal networks
type IPValidator struct{}

// NewIPValidator creates a new IP validator
func NewIPValidator() *IPValidator {
	return &IPValidator{}
}

// Validate checks an IP address is publicly routable
func (v *IPValidator) Validate(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("IP address is nil")
	}

	switch {
	case ip.IsLoopback():
		return fmt.Errorf("IP %s is blocked: loopback address", ip)
	case ip.IsPrivate():
		return fmt.Errorf("IP %s is blocked: private network", ip)
	// 169.254.0.0/16 includes cloud metadata endpoints
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("IP %s is blocked: link-local address", ip)
	case ip.IsMulticast():
		return fmt.Errorf("IP %s is blocked: multicast address", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("IP %s is blocked: unspecified address", ip)
	}
	return nil
}

// ValidateHost checks a URL hostname. IP literals are checked against the
// blocked ranges and localhost names are refused. Other names are not resolved.
func (v *IPValidator) ValidateHost(host string) error {
	host = strings.TrimSuffix(strings.ToLower(strings.Trim(host, "[]")), ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("host %s is blocked: loopback name", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		return v.Validate(ip)
	}
	return nil
}
