package sandbox

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsPrivateIPv4Ranges(t *testing.T) {
	private := []string{
		"10.0.0.1", "172.16.0.1", "192.168.1.1", "127.0.0.1",
		"169.254.1.1", "100.64.0.1", "192.0.2.1", "0.0.0.0",
	}
	for _, s := range private {
		require.True(t, IsPrivateIP(net.ParseIP(s)), "expected %s to be private", s)
	}

	public := []string{"8.8.8.8", "1.1.1.1", "93.184.216.34"}
	for _, s := range public {
		require.False(t, IsPrivateIP(net.ParseIP(s)), "expected %s to be public", s)
	}
}

func TestIsPrivateIPv6(t *testing.T) {
	require.True(t, IsPrivateIP(net.ParseIP("::1")))
	require.True(t, IsPrivateIP(net.ParseIP("::")))
	require.False(t, IsPrivateIP(net.ParseIP("2606:4700:4700::1111")))
}

func resolverFor(ips map[string][]net.IP) func(string) ([]net.IP, error) {
	return func(host string) ([]net.IP, error) { return ips[host], nil }
}

func TestNetworkEnforcerOrderedGates(t *testing.T) {
	resolver := resolverFor(map[string][]net.IP{"example.com": {net.ParseIP("93.184.216.34")}})

	// 1. allow_internet gate first.
	e := NewNetworkEnforcer(NetworkPolicy{AllowInternet: false}, resolver)
	_, err := e.CheckRequest("https://example.com/", 0, 0)
	require.ErrorIs(t, err, ErrNetworkDisabled)

	// 2. budget counters.
	e = NewNetworkEnforcer(NetworkPolicy{AllowInternet: true, MaxTotalRequests: 1}, resolver)
	_, err = e.CheckRequest("https://example.com/", 0, 0)
	require.NoError(t, err)
	_, err = e.CheckRequest("https://example.com/", 0, 0)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	// 3. size limits.
	e = NewNetworkEnforcer(NetworkPolicy{AllowInternet: true, MaxRequestBytes: 10}, resolver)
	_, err = e.CheckRequest("https://example.com/", 20, 0)
	require.ErrorIs(t, err, ErrBodyTooLarge)

	// 4. host allow-list.
	e = NewNetworkEnforcer(NetworkPolicy{AllowInternet: true, AllowedHosts: []string{"other.com"}}, resolver)
	_, err = e.CheckRequest("https://example.com/", 0, 0)
	require.ErrorIs(t, err, ErrHostNotAllowed)

	// 5. private-range block on resolved IP.
	privateResolver := resolverFor(map[string][]net.IP{"internal.example": {net.ParseIP("10.0.0.5")}})
	e = NewNetworkEnforcer(NetworkPolicy{AllowInternet: true, BlockPrivateRanges: true}, privateResolver)
	_, err = e.CheckRequest("https://internal.example/", 0, 0)
	require.ErrorIs(t, err, ErrPrivateIPBlocked)

	// success path.
	e = NewNetworkEnforcer(NetworkPolicy{AllowInternet: true, BlockPrivateRanges: true}, resolver)
	ip, err := e.CheckRequest("https://example.com/", 0, 0)
	require.NoError(t, err)
	require.Equal(t, "93.184.216.34", ip.String())
}

func TestNetworkEnforcerAllowedIPRangeGate(t *testing.T) {
	_, allowedRange, err := net.ParseCIDR("93.184.0.0/16")
	require.NoError(t, err)
	resolver := resolverFor(map[string][]net.IP{
		"example.com": {net.ParseIP("93.184.216.34")},
		"other.com":   {net.ParseIP("1.2.3.4")},
	})

	e := NewNetworkEnforcer(NetworkPolicy{
		AllowInternet:   true,
		AllowedIPRanges: []*net.IPNet{allowedRange},
	}, resolver)

	_, err = e.CheckRequest("https://example.com/", 0, 0)
	require.NoError(t, err)

	_, err = e.CheckRequest("https://other.com/", 0, 0)
	require.ErrorIs(t, err, ErrIPRangeNotAllowed)
}

func TestDNSCacheHitAvoidsReResolution(t *testing.T) {
	calls := 0
	resolver := func(host string) ([]net.IP, error) {
		calls++
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}

	e := NewNetworkEnforcer(NetworkPolicy{AllowInternet: true, DNSCacheTTLSeconds: 60}, resolver)
	_, err := e.CheckRequest("https://example.com/", 0, 0)
	require.NoError(t, err)
	_, err = e.CheckRequest("https://example.com/", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second lookup should be served from cache")
}

func TestResolveHostRejectsWhenInternetDisabled(t *testing.T) {
	e := NewNetworkEnforcer(NetworkPolicy{AllowInternet: false}, resolverFor(nil))
	_, err := e.ResolveHost("example.com")
	require.ErrorIs(t, err, ErrNetworkDisabled)
}

func TestResolveHostRejectsHostNotAllowed(t *testing.T) {
	resolver := resolverFor(map[string][]net.IP{"example.com": {net.ParseIP("93.184.216.34")}})
	e := NewNetworkEnforcer(NetworkPolicy{AllowInternet: true, AllowedHosts: []string{"other.com"}}, resolver)
	_, err := e.ResolveHost("example.com")
	require.ErrorIs(t, err, ErrHostNotAllowed)
}

func TestResolveHostSucceeds(t *testing.T) {
	resolver := resolverFor(map[string][]net.IP{"example.com": {net.ParseIP("93.184.216.34")}})
	e := NewNetworkEnforcer(NetworkPolicy{AllowInternet: true}, resolver)
	ip, err := e.ResolveHost("example.com")
	require.NoError(t, err)
	require.Equal(t, "93.184.216.34", ip.String())
}

func TestDNSLookupBudgetEnforced(t *testing.T) {
	resolver := resolverFor(map[string][]net.IP{
		"a.example": {net.ParseIP("1.1.1.1")},
		"b.example": {net.ParseIP("2.2.2.2")},
	})
	e := NewNetworkEnforcer(NetworkPolicy{AllowInternet: true, MaxDNSLookups: 1}, resolver)

	_, err := e.CheckRequest("https://a.example/", 0, 0)
	require.NoError(t, err)
	_, err = e.CheckRequest("https://b.example/", 0, 0)
	require.ErrorIs(t, err, ErrBudgetExceeded)
}
