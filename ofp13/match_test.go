package ofp13

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMatchEqualIgnoresOrder(t *testing.T) {
	mac, err := net.ParseMAC("02:00:00:00:00:01")
	require.NoError(t, err)

	a := Match{DataLinkSource(mac), DataLinkType(0x0800)}
	b := Match{DataLinkType(0x0800), DataLinkSource(mac)}

	require.True(t, a.Equal(b))
}

func TestMatchHashStableAcrossOrder(t *testing.T) {
	mac, _ := net.ParseMAC("02:00:00:00:00:01")

	a := Match{DataLinkSource(mac), InPort(3)}
	b := Match{InPort(3), DataLinkSource(mac)}

	require.Equal(t, a.Hash(), b.Hash())
}

func TestMatchHashDistinguishesValues(t *testing.T) {
	a := Match{InPort(1)}
	b := Match{InPort(2)}

	require.NotEqual(t, a.Hash(), b.Hash())
}

func TestMarshalUnmarshalOXMRoundTrip(t *testing.T) {
	mac, _ := net.ParseMAC("02:00:00:00:00:01")
	ip := net.ParseIP("10.0.0.1")
	mask := net.CIDRMask(24, 32)

	want := Match{
		InPort(5),
		DataLinkSource(mac),
		DataLinkType(0x0800),
		NetworkSource(ip, mask),
	}.Normalize()

	got, err := UnmarshalOXM(want.MarshalOXM())
	require.NoError(t, err)

	if diff := cmp.Diff(want, got.Normalize()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestVLANVIDExactMatchOmitsMask(t *testing.T) {
	f := VLANVID(10, 0xffff)
	require.False(t, f.HasMask)
}

func TestVLANVIDMaskedMatch(t *testing.T) {
	f := VLANVID(0x1000, 0x1000)
	require.True(t, f.HasMask)
}
