// Package netprobe does read-only discovery of the local Open vSwitch
// generic netlink family, so an embedding agent can fail fast with a
// clear error before ever dialing the OpenFlow management socket. It
// never touches packet I/O or the datapath itself.
package netprobe

import (
	"os"
	"strings"

	"github.com/mdlayher/genetlink"
)

// ovsFamilyPrefix is the generic netlink family name prefix the Open
// vSwitch kernel module registers under (e.g. "ovs_datapath", "ovs_vport").
const ovsFamilyPrefix = "ovs_"

// Probe reports whether the running kernel has at least one Open vSwitch
// generic netlink family registered. A nil error with found == false
// means the dial succeeded but no ovs_* family was present; any non-nil
// error means the generic netlink socket itself could not be reached
// (e.g. running in a container without CAP_NET_ADMIN).
func Probe() (found bool, err error) {
	conn, err := genetlink.Dial(nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	return probe(conn)
}

// probe is the internal, connection-injectable half of Probe, split out
// so tests can drive it against genltest's mock conn without a real
// netlink socket.
func probe(conn *genetlink.Conn) (bool, error) {
	families, err := conn.ListFamilies()
	if err != nil {
		return false, err
	}
	return hasOVSFamily(families), nil
}

func hasOVSFamily(families []genetlink.Family) bool {
	for _, f := range families {
		if strings.HasPrefix(f.Name, ovsFamilyPrefix) {
			return true
		}
	}
	return false
}

// RequireDatapath is Probe, adapted for callers that want the
// os.IsNotExist-checkable failure the teacher's ovsnl.Client.init uses
// when no family is present, rather than a separate bool return.
func RequireDatapath() error {
	found, err := Probe()
	if err != nil {
		return err
	}
	if !found {
		return os.ErrNotExist
	}
	return nil
}
