package peer

import (
	"fmt"

	"github.com/lightningnetwork/lnd/tor"
)

// TorConfig groups the optional Tor-control settings; a zero value
// (ControlAddr == "") means Tor support is disabled and startTor is a
// no-op. Grounded on breez-lightninglib/daemon/server.go's
// initTorController, which drives the same lnd/tor.Controller to stand
// up a v2 onion service automatically at startup.
type TorConfig struct {
	ControlAddr     string
	V2KeyPath       string
}

// startTor brings up a v2 onion service mapping the peer listen port,
// returning the onion addresses now reachable so the caller can fold
// them into its advertised address list. A failure to reach the Tor
// control port is logged and treated as "Tor unavailable", not fatal —
// the node still works over clearnet.
func startTor(cfg TorConfig, peerPort uint16) (*tor.Controller, []string) {
	if cfg.ControlAddr == "" {
		return nil, nil
	}

	controller := tor.NewController(cfg.ControlAddr)
	if err := controller.Start(); err != nil {
		log.Warnf("tor controller unavailable at %s: %v", cfg.ControlAddr, err)
		return nil, nil
	}

	ports := map[int]struct{}{int(peerPort): {}}
	addrs, err := controller.AddOnionV2(cfg.V2KeyPath, tor.VirtToTargPorts{int(peerPort): ports})
	if err != nil {
		log.Warnf("creating onion service failed: %v", err)
		controller.Stop()
		return nil, nil
	}

	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, fmt.Sprintf("%s:onion", a.String()))
	}
	return controller, out
}
