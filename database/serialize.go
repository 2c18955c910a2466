package database

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kuutamolabs/kld/ln"
)

// encodeSocketAddress/decodeSocketAddress serialize a SocketAddress as
// "host:port" (or "host:port:onion" for Tor), matching NetAddress::encode's
// role in ldk_database.rs of turning the wire address type into storable
// bytes without pulling in a binary codec for a three-field struct.
func encodeSocketAddress(a ln.SocketAddress) []byte {
	s := fmt.Sprintf("%s:%d", a.Host, a.Port)
	if a.Onion {
		s += ":onion"
	}
	return []byte(s)
}

func decodeSocketAddress(b []byte) (ln.SocketAddress, error) {
	parts := strings.Split(string(b), ":")
	if len(parts) < 2 {
		return ln.SocketAddress{}, fmt.Errorf("malformed stored address %q", b)
	}
	port, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return ln.SocketAddress{}, fmt.Errorf("malformed stored port %q: %w", parts[1], err)
	}
	return ln.SocketAddress{
		Host:  parts[0],
		Port:  uint16(port),
		Onion: len(parts) == 3 && parts[2] == "onion",
	}, nil
}

// encodeDetail/decodeDetail store a ChannelDetail as JSON: it's an
// application-internal blob (never sent over the wire), so there's no
// gain from a binary codec the way there is for monitor/manager state
// that LDK's own Writeable already defines.
func encodeDetail(d ln.ChannelDetail) ([]byte, error) {
	return json.Marshal(d)
}

func decodeDetail(b []byte) (ln.ChannelDetail, error) {
	var d ln.ChannelDetail
	err := json.Unmarshal(b, &d)
	return d, err
}
