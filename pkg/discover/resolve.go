package discover

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultLookupTimeout bounds how long Lookup waits for a single instance
// to answer, mirroring pkg/discovery/resolver.go's DefaultLookupTimeout.
const DefaultLookupTimeout = 5 * time.Second

// ResolvedPeer is what Lookup hands back: enough to construct a
// road.Remote and attempt a join, without road itself depending on mDNS.
type ResolvedPeer struct {
	Name string
	UID  uint32
	Role string
	Host string
	Port uint16
}

// MDNSResolver is the subset of zeroconf's browse/lookup road needs.
type MDNSResolver interface {
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type zeroconfResolver struct {
	r *zeroconf.Resolver
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.r.Lookup(ctx, instance, service, domain, entries)
}

// Resolver looks up road peers previously published by an Advertiser.
// Grounded on pkg/discovery/resolver.go's Resolver, narrowed to a single
// Lookup-by-name operation (road's vacuous-join bootstrap only needs "find
// this named peer's address", not the full commissionable-node browse flow
// Matter's discovery layer supports).
type Resolver struct {
	resolver MDNSResolver
}

// NewResolver constructs a Resolver backed by zeroconf, unless r is
// supplied (for tests).
func NewResolver(r MDNSResolver) (*Resolver, error) {
	if r != nil {
		return &Resolver{resolver: r}, nil
	}
	zr, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &Resolver{resolver: &zeroconfResolver{r: zr}}, nil
}

// Lookup resolves name to a ResolvedPeer, waiting up to DefaultLookupTimeout
// for an answer. Returns false if nothing answered in time.
func (r *Resolver) Lookup(name string) (ResolvedPeer, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultLookupTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := r.resolver.Lookup(ctx, name, ServiceType, Domain, entries); err != nil {
		return ResolvedPeer{}, false
	}

	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			return ResolvedPeer{}, false
		}
		return parseEntry(name, entry), true
	case <-ctx.Done():
		return ResolvedPeer{}, false
	}
}

func parseEntry(name string, entry *zeroconf.ServiceEntry) ResolvedPeer {
	peer := ResolvedPeer{Name: name, Port: uint16(entry.Port)}
	if len(entry.AddrIPv4) > 0 {
		peer.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		peer.Host = entry.AddrIPv6[0].String()
	}
	for _, kv := range entry.Text {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "uid":
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				peer.UID = uint32(n)
			}
		case "role":
			peer.Role = v
		}
	}
	return peer
}
