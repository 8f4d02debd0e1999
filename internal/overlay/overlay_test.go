package overlay

import (
	"net/netip"
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentping/relay/internal/origin"
)

func defaultPrefixes(t *testing.T) []netip.Prefix {
	t.Helper()
	p, err := origin.ParsePrefixes(origin.DefaultPrefixes)
	require.NoError(t, err)
	return p
}

func TestMatch(t *testing.T) {
	ifaces := psnet.InterfaceStatList{
		{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
		{Name: "eth0", Flags: []string{"up"}, Addrs: psnet.InterfaceAddrList{{Addr: "192.168.1.20/24"}}},
		{Name: "tailscale0", Flags: []string{"up", "pointtopoint"}, Addrs: psnet.InterfaceAddrList{
			{Addr: "fd7a:115c:a1e0::1234/128"},
			{Addr: "100.101.102.103/32"},
		}},
		{Name: "tun1", Flags: []string{"pointtopoint"}, Addrs: psnet.InterfaceAddrList{{Addr: "100.90.0.1/32"}}},
	}

	got := match(ifaces, defaultPrefixes(t))
	require.Len(t, got, 2)
	assert.Equal(t, Address{Interface: "tailscale0", Addr: netip.MustParseAddr("100.101.102.103")}, got[0])
	assert.Equal(t, netip.MustParseAddr("fd7a:115c:a1e0::1234"), got[1].Addr)
}

func TestMatchCustomPrefixes(t *testing.T) {
	ifaces := psnet.InterfaceStatList{
		{Name: "wg0", Addrs: psnet.InterfaceAddrList{{Addr: "10.8.0.2/24"}}},
	}
	prefixes, err := origin.ParsePrefixes([]string{"10.8.0.0/24"})
	require.NoError(t, err)

	got := match(ifaces, prefixes)
	require.Len(t, got, 1)
	assert.Equal(t, "wg0", got[0].Interface)
}

func TestParseCLI(t *testing.T) {
	out := "100.64.0.7\nfd7a:115c:a1e0::7\n\ngarbage\n"
	got := parseCLI(out, defaultPrefixes(t))
	require.Len(t, got, 2)
	assert.True(t, got[0].Addr.Is4())
}

func TestPairingURI(t *testing.T) {
	assert.Equal(t, "agentping://100.64.0.7:8765", PairingURI(netip.MustParseAddr("100.64.0.7"), 8765))
	assert.Equal(t, "agentping://[fd7a:115c:a1e0::7]:8765", PairingURI(netip.MustParseAddr("fd7a:115c:a1e0::7"), 8765))
	assert.Equal(t, "ws://100.64.0.7:9000/ws", ViewerURL(netip.MustParseAddr("100.64.0.7"), 9000))
}
