package ofconn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTargetUnix(t *testing.T) {
	network, address, err := ParseTarget("unix:/run/openvswitch/br0.mgmt")
	require.NoError(t, err)
	require.Equal(t, "unix", network)
	require.Equal(t, "/run/openvswitch/br0.mgmt", address)
}

func TestParseTargetTCP(t *testing.T) {
	network, address, err := ParseTarget("tcp:127.0.0.1:6653")
	require.NoError(t, err)
	require.Equal(t, "tcp", network)
	require.Equal(t, "127.0.0.1:6653", address)
}

func TestParseTargetRejectsUnknownScheme(t *testing.T) {
	_, _, err := ParseTarget("ssh:example.com")
	require.Error(t, err)
}

func TestParseTargetRejectsMissingScheme(t *testing.T) {
	_, _, err := ParseTarget("no-scheme-here")
	require.Error(t, err)
}
