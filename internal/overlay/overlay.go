// Package overlay finds this host's addresses on the private overlay network
// so viewers can be pointed at the relay.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"
	"slices"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/agentping/relay/internal/origin"
)

// Scheme is the URI scheme viewer apps register for pairing.
const Scheme = "agentping"

// ErrNoAddress is returned when no interface carries an overlay address.
var ErrNoAddress = errors.New("no overlay address found")

// Address is one overlay address bound to a local interface.
type Address struct {
	Interface string
	Addr      netip.Addr
}

// Discover lists overlay addresses on up interfaces. An empty prefix list
// uses origin.DefaultPrefixes.
func Discover(ctx context.Context, prefixes []string) ([]Address, error) {
	if len(prefixes) == 0 {
		prefixes = origin.DefaultPrefixes
	}
	parsed, err := origin.ParsePrefixes(prefixes)
	if err != nil {
		return nil, err
	}

	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}
	addrs := match(ifaces, parsed)
	if len(addrs) == 0 {
		// Userspace networking leaves no interface; ask the daemon.
		if a, err := fromCLI(ctx, parsed); err == nil {
			addrs = a
		}
	}
	if len(addrs) == 0 {
		return nil, ErrNoAddress
	}
	return addrs, nil
}

func match(ifaces psnet.InterfaceStatList, prefixes []netip.Prefix) []Address {
	var out []Address
	for _, iface := range ifaces {
		if slices.Contains(iface.Flags, "loopback") {
			continue
		}
		if len(iface.Flags) > 0 && !slices.Contains(iface.Flags, "up") {
			continue
		}
		for _, a := range iface.Addrs {
			addr, ok := parseAddr(a.Addr)
			if !ok || !contains(prefixes, addr) {
				continue
			}
			out = append(out, Address{Interface: iface.Name, Addr: addr})
		}
	}
	sortAddresses(out)
	return out
}

// parseAddr accepts both CIDR ("100.64.1.2/32") and bare forms.
func parseAddr(s string) (netip.Addr, bool) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Addr().Unmap(), true
	}
	if a, err := netip.ParseAddr(s); err == nil {
		return a.Unmap(), true
	}
	return netip.Addr{}, false
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// sortAddresses puts IPv4 first since it is what users type.
func sortAddresses(addrs []Address) {
	slices.SortStableFunc(addrs, func(a, b Address) int {
		if a.Addr.Is4() != b.Addr.Is4() {
			if a.Addr.Is4() {
				return -1
			}
			return 1
		}
		return a.Addr.Compare(b.Addr)
	})
}

func fromCLI(ctx context.Context, prefixes []netip.Prefix) ([]Address, error) {
	path, err := exec.LookPath("tailscale")
	if err != nil {
		return nil, err
	}
	out, err := exec.CommandContext(ctx, path, "ip").Output()
	if err != nil {
		return nil, err
	}
	return parseCLI(string(out), prefixes), nil
}

func parseCLI(output string, prefixes []netip.Prefix) []Address {
	var out []Address
	for _, line := range strings.Split(output, "\n") {
		addr, ok := parseAddr(strings.TrimSpace(line))
		if !ok || !contains(prefixes, addr) {
			continue
		}
		out = append(out, Address{Interface: "tailscale", Addr: addr})
	}
	sortAddresses(out)
	return out
}

// PairingURI is what a viewer app scans or pastes to find the relay.
func PairingURI(addr netip.Addr, port int) string {
	return fmt.Sprintf("%s://%s", Scheme, netip.AddrPortFrom(addr, uint16(port)))
}

// ViewerURL is the WebSocket endpoint on addr.
func ViewerURL(addr netip.Addr, port int) string {
	return fmt.Sprintf("ws://%s/ws", netip.AddrPortFrom(addr, uint16(port)))
}
