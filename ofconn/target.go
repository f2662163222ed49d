package ofconn

import (
	"fmt"
	"strings"
)

// ParseTarget splits an ofconn target string into the (network, address)
// pair net.Dial expects. The canonical deployment target looks like
// "unix:/var/run/openvswitch/br0.mgmt", mirroring the teacher's
// ovsdb.Dial(network, addr) split, but the exact scheme is opaque to
// callers (spec.md §4.1).
func ParseTarget(target string) (network, address string, err error) {
	i := strings.Index(target, ":")
	if i < 0 {
		return "", "", fmt.Errorf("ofconn: target %q missing network scheme", target)
	}
	network, address = target[:i], target[i+1:]
	if address == "" {
		return "", "", fmt.Errorf("ofconn: target %q missing address", target)
	}

	switch network {
	case "unix":
		return "unix", address, nil
	case "tcp":
		return "tcp", address, nil
	default:
		return "", "", fmt.Errorf("ofconn: unknown target scheme %q", network)
	}
}
