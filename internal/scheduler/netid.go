package scheduler

import (
	"context"
	"fmt"
	"net"
)

// AddrResolver resolves a host name to the IPv4 address that guest network
// identities are derived from.
type AddrResolver interface {
	LookupIPv4(ctx context.Context, host string) (net.IP, error)
}

// ResolverFunc adapts a function to the AddrResolver interface.
type ResolverFunc func(ctx context.Context, host string) (net.IP, error)

// LookupIPv4 calls f.
func (f ResolverFunc) LookupIPv4(ctx context.Context, host string) (net.IP, error) {
	return f(ctx, host)
}

// dnsResolver resolves through the system resolver.
type dnsResolver struct{}

func (dnsResolver) LookupIPv4(ctx context.Context, host string) (net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no IPv4 address for %q", host)
	}
	return addrs[0].To4(), nil
}
