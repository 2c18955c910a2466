package peer

import (
	"fmt"
	"net"
	"time"

	"github.com/NebulousLabs/go-upnp"
	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
)

const portMapDuration = 20 * time.Minute

// mapPort best-effort port-maps the peer listen port on the LAN gateway
// so inbound connections can reach a node behind NAT, trying UPnP first
// and falling back to NAT-PMP. A failure here is never fatal — it only
// means the node stays outbound-only, which keep-connected/connect_peer
// already handle fine. Grounded on lnd's nat.go discovery-and-map
// sequence, minus the mDNS/Tor-control paths that port is guarded by
// build tags this port doesn't carry.
func mapPort(port uint16) {
	if err := mapUPnP(port); err == nil {
		log.Infof("mapped peer port %d via UPnP", port)
		return
	}
	if err := mapNATPMP(port); err != nil {
		log.Debugf("no NAT port mapping available for port %d: %v", port, err)
		return
	}
	log.Infof("mapped peer port %d via NAT-PMP", port)
}

func mapUPnP(port uint16) error {
	d, err := upnp.Discover()
	if err != nil {
		return fmt.Errorf("upnp discover: %w", err)
	}
	return d.Forward(port, "kld peer listener")
}

func mapNATPMP(port uint16) error {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		return fmt.Errorf("discovering gateway: %w", err)
	}
	client := natpmp.NewClient(gw)
	_, err = client.AddPortMapping("tcp", int(port), int(port), int(portMapDuration.Seconds()))
	return err
}

// externalIP reports the router-assigned external address, used only for
// logging a reachable-address hint at startup; callers still rely on
// config.Settings.Addresses for what's actually advertised.
func externalIP() (net.IP, error) {
	if d, err := upnp.Discover(); err == nil {
		if ipStr, err := d.ExternalIP(); err == nil {
			if ip := net.ParseIP(ipStr); ip != nil {
				return ip, nil
			}
		}
	}

	gw, err := gateway.DiscoverGateway()
	if err != nil {
		return nil, fmt.Errorf("discovering gateway: %w", err)
	}
	result, err := natpmp.NewClient(gw).GetExternalAddress()
	if err != nil {
		return nil, fmt.Errorf("nat-pmp external address: %w", err)
	}
	ip := result.ExternalIPAddress
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]), nil
}
