package discover

import (
	"context"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

type mockMDNSServer struct {
	shutdownCalled bool
}

func (m *mockMDNSServer) Shutdown() { m.shutdownCalled = true }

type mockMDNSServerFactory struct {
	lastInstance string
	lastService  string
	lastPort     int
	lastTxt      []string
	server       *mockMDNSServer
}

func (f *mockMDNSServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.lastInstance = instance
	f.lastService = service
	f.lastPort = port
	f.lastTxt = txt
	f.server = &mockMDNSServer{}
	return f.server, nil
}

func TestAdvertiserStartStop(t *testing.T) {
	factory := &mockMDNSServerFactory{}
	adv := NewAdvertiser(AdvertiserConfig{ServerFactory: factory})

	if err := adv.Start("alice", 7, "A", 7530); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if factory.lastInstance != "alice" || factory.lastService != ServiceType || factory.lastPort != 7530 {
		t.Fatalf("unexpected registration: %+v", factory)
	}
	if len(factory.lastTxt) != 2 {
		t.Fatalf("expected uid/role txt records, got %v", factory.lastTxt)
	}

	if err := adv.Start("alice", 7, "A", 7530); err == nil {
		t.Fatalf("expected second Start to fail while already running")
	}

	adv.Stop()
	if !factory.server.shutdownCalled {
		t.Fatalf("expected Stop to shut down the mDNS server")
	}
}

type mockResolver struct {
	entry *zeroconf.ServiceEntry
}

func (m *mockResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	go func() { entries <- m.entry }()
	return nil
}

func TestResolverLookup(t *testing.T) {
	entry := &zeroconf.ServiceEntry{}
	entry.Port = 7530
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.0.2.1")}
	entry.Text = []string{"uid=9", "role=B"}

	r, err := NewResolver(&mockResolver{entry: entry})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	peer, ok := r.Lookup("bob")
	if !ok {
		t.Fatalf("expected Lookup to resolve")
	}
	if peer.Name != "bob" || peer.UID != 9 || peer.Role != "B" || peer.Host != "192.0.2.1" || peer.Port != 7530 {
		t.Fatalf("unexpected peer: %+v", peer)
	}
}
