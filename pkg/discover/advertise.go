// Package discover provides optional mDNS-based peer discovery for road:
// advertising this stack's (uid, name) under a DNS-SD service so another
// stack can resolve a name to a host:port before attempting a vacuous join,
// instead of requiring the caller to already know the address.
package discover

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// ServiceType is the DNS-SD service road advertises itself under.
const ServiceType = "_road._udp"

// Domain is the mDNS domain used for both advertising and browsing.
const Domain = "local."

// MDNSServer is the subset of zeroconf's registration handle road needs —
// narrowed to an interface so tests can inject a fake (grounded on
// pkg/discovery/advertiser.go's MDNSServer/MDNSServerFactory split).
type MDNSServer interface {
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

type zeroconfServerFactory struct{}

func (zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Advertiser publishes this endpoint's (uid, name, role) under ServiceType
// so peers can discover it by name. Grounded on pkg/discovery/advertiser.go's
// Advertiser, narrowed from Matter's multi-service-type commissioning
// advertiser (_matterc, _matterd, operational) down to road's single
// service type.
type Advertiser struct {
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu      sync.Mutex
	server  MDNSServer
	started bool
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// ServerFactory overrides the production zeroconf factory, for tests.
	ServerFactory MDNSServerFactory
	LoggerFactory logging.LoggerFactory
}

// NewAdvertiser constructs an Advertiser; call Start to begin publishing.
func NewAdvertiser(cfg AdvertiserConfig) *Advertiser {
	factory := cfg.ServerFactory
	if factory == nil {
		factory = zeroconfServerFactory{}
	}
	a := &Advertiser{factory: factory}
	if cfg.LoggerFactory != nil {
		a.log = cfg.LoggerFactory.NewLogger("discover")
	}
	return a
}

// Start registers name/uid/role under ServiceType on port. Calling Start
// twice without an intervening Stop returns an error.
func (a *Advertiser) Start(name string, uid uint32, role string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("discover: advertiser already started")
	}

	txt := []string{
		fmt.Sprintf("uid=%d", uid),
		fmt.Sprintf("role=%s", role),
	}
	server, err := a.factory.Register(name, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("discover: register: %w", err)
	}

	a.server = server
	a.started = true
	if a.log != nil {
		a.log.Infof("advertising %s as %s on port %d", name, ServiceType, port)
	}
	return nil
}

// Stop withdraws the advertisement, if any.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.started = false
}
