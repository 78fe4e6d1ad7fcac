// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sandbox executes untrusted challenge WASM modules against agent
// submissions under strict resource and network-capability limits
// (spec.md §4.G), built on github.com/tetratelabs/wazero.
package sandbox

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Errors mapped from resource-limit and policy violations (spec.md §4.G
// table).
var (
	ErrNetworkDisabled   = errors.New("sandbox: network access disabled by policy")
	ErrBudgetExceeded    = errors.New("sandbox: request or dns budget exceeded")
	ErrBodyTooLarge      = errors.New("sandbox: body or header exceeds size limit")
	ErrHostNotAllowed    = errors.New("sandbox: host not in allow-list")
	ErrPrivateIPBlocked  = errors.New("sandbox: connection to private/reserved IP blocked")
	ErrIPRangeNotAllowed = errors.New("sandbox: resolved IP not in allowed range")
)

// NetworkPolicy controls a challenge instance's outbound network access
// (spec.md §4.G). Host-function enforcement walks these fields in a fixed
// order: internet gate, budget counters, size limits, host allow-list,
// then per-resolved-IP private-range and allow-range checks.
type NetworkPolicy struct {
	AllowInternet      bool
	AllowedHosts       []string
	AllowedMethods     []string
	AllowedIPRanges    []*net.IPNet
	MaxRequestBytes    int64
	MaxResponseBytes   int64
	MaxHeaderBytes     int64
	MaxRedirects       int
	MaxTotalRequests   int
	MaxDNSLookups      int
	DNSCacheTTLSeconds int64
	BlockPrivateRanges bool
}

// budget tracks the per-instance request/DNS counters referenced by the
// policy's budget-counter enforcement step.
type budget struct {
	requestsUsed int
	dnsUsed      int
}

// NetworkEnforcer runs the ordered host-function enforcement pipeline
// (grounded on original_source/crates/wasm-runtime-interface/src/network.rs's
// validate_http_request / resolve_and_validate_ip / validate_ip_against_policy
// chain) against one instance's NetworkPolicy.
type NetworkEnforcer struct {
	policy  NetworkPolicy
	budget  budget
	dns     *dnsCache
	resolve func(host string) ([]net.IP, error)
}

// NewNetworkEnforcer constructs a NetworkEnforcer for policy. resolver may
// be nil to use net.LookupIP; tests substitute a fake.
func NewNetworkEnforcer(policy NetworkPolicy, resolver func(host string) ([]net.IP, error)) *NetworkEnforcer {
	if resolver == nil {
		resolver = func(host string) ([]net.IP, error) { return net.LookupIP(host) }
	}
	ttl := policy.DNSCacheTTLSeconds
	if ttl <= 0 {
		ttl = 60
	}
	return &NetworkEnforcer{
		policy:  policy,
		dns:     newDNSCache(ttl),
		resolve: resolver,
	}
}

// CheckRequest runs the full ordered enforcement pipeline for one outbound
// HTTP request and returns the validated target host's resolved IP, or
// the first violated step.
func (e *NetworkEnforcer) CheckRequest(rawURL string, bodyLen, headerLen int64) (net.IP, error) {
	// 1. allow_internet gate.
	if !e.policy.AllowInternet {
		return nil, ErrNetworkDisabled
	}

	// 2. Budget counters (request/DNS).
	if e.policy.MaxTotalRequests > 0 && e.budget.requestsUsed >= e.policy.MaxTotalRequests {
		return nil, ErrBudgetExceeded
	}

	// 3. Body/header size limits.
	if e.policy.MaxRequestBytes > 0 && bodyLen > e.policy.MaxRequestBytes {
		return nil, ErrBodyTooLarge
	}
	if e.policy.MaxHeaderBytes > 0 && headerLen > e.policy.MaxHeaderBytes {
		return nil, ErrBodyTooLarge
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("sandbox: invalid url: %w", err)
	}
	host := parsed.Hostname()

	// 4. Host allow-list on URL.
	if len(e.policy.AllowedHosts) > 0 && !hostAllowed(host, e.policy.AllowedHosts) {
		return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}

	// 5. Pre-connect DNS resolution; for every resolved IP, enforce
	// private-range block then allowed-IP-range allow-list.
	ip, err := e.resolveAndValidate(host)
	if err != nil {
		return nil, err
	}

	e.budget.requestsUsed++
	return ip, nil
}

// ResolveHost runs the dns_resolve host function's ordered checks: the
// allow_internet gate, the host allow-list, then DNS budget/cache
// resolution with private-range and allow-range validation (spec.md §4.G
// steps 1, 4, 5, plus the DNS-lookup half of step 2; a bare lookup has no
// body to size-check and does not count against the request budget).
func (e *NetworkEnforcer) ResolveHost(host string) (net.IP, error) {
	if !e.policy.AllowInternet {
		return nil, ErrNetworkDisabled
	}
	if len(e.policy.AllowedHosts) > 0 && !hostAllowed(host, e.policy.AllowedHosts) {
		return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	return e.resolveAndValidate(host)
}

func (e *NetworkEnforcer) resolveAndValidate(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if err := e.validateIP(ip); err != nil {
			return nil, err
		}
		return ip, nil
	}

	if cached, ok := e.dns.get(host); ok {
		return e.firstValidIP(cached)
	}

	if e.policy.MaxDNSLookups > 0 && e.budget.dnsUsed >= e.policy.MaxDNSLookups {
		return nil, ErrBudgetExceeded
	}
	ips, err := e.resolve(host)
	if err != nil {
		return nil, fmt.Errorf("sandbox: dns resolution failed: %w", err)
	}
	e.budget.dnsUsed++
	e.dns.put(host, ips)
	return e.firstValidIP(ips)
}

func (e *NetworkEnforcer) firstValidIP(ips []net.IP) (net.IP, error) {
	var lastErr error
	for _, ip := range ips {
		if err := e.validateIP(ip); err != nil {
			lastErr = err
			continue
		}
		return ip, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("sandbox: no resolved addresses")
	}
	return nil, lastErr
}

func (e *NetworkEnforcer) validateIP(ip net.IP) error {
	if e.policy.BlockPrivateRanges && IsPrivateIP(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateIPBlocked, ip)
	}
	if len(e.policy.AllowedIPRanges) > 0 && !ipInAnyRange(ip, e.policy.AllowedIPRanges) {
		return fmt.Errorf("%w: %s", ErrIPRangeNotAllowed, ip)
	}
	return nil
}

func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, host) {
			return true
		}
	}
	return false
}

func ipInAnyRange(ip net.IP, ranges []*net.IPNet) bool {
	for _, r := range ranges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// IsPrivateIP mirrors the original source's is_private_ip: loopback,
// link-local, private, multicast, and unspecified ranges are treated as
// private for both IPv4 and IPv6; the CGNAT and documentation ranges are
// checked for IPv4 only.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		if v4.IsPrivate() {
			return true
		}
		return isCGNAT(v4) || isDocumentationV4(v4)
	}
	return ip.IsPrivate()
}

// isCGNAT reports whether ip falls in the shared address space
// 100.64.0.0/10 (RFC 6598), used for carrier-grade NAT.
func isCGNAT(ip net.IP) bool {
	_, cgnat, _ := net.ParseCIDR("100.64.0.0/10")
	return cgnat.Contains(ip)
}

// isDocumentationV4 reports whether ip falls in one of the IPv4
// documentation ranges (RFC 5737).
func isDocumentationV4(ip net.IP) bool {
	for _, cidr := range []string{"192.0.2.0/24", "198.51.100.0/24", "203.0.113.0/24"} {
		_, block, _ := net.ParseCIDR(cidr)
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
