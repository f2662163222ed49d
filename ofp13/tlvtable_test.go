package ofp13

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTlvTableModMarshal(t *testing.T) {
	m := &TlvTableMod{
		Xid:     1,
		Command: TlvTableModAdd,
		Mappings: []TlvMap{
			{OptClass: 0x0102, OptType: 3, OptLen: 4, Index: 1},
		},
	}
	b, err := m.MarshalBinary()
	require.NoError(t, err)

	var h Header
	require.NoError(t, h.UnmarshalBinary(b))
	require.Equal(t, TypeTlvTableMod, h.Type)
	require.Equal(t, int(h.Length), len(b))
}

func TestDecodeTlvTableReplyFindsFreeAndUsedSlots(t *testing.T) {
	body := make([]byte, 8)
	body[4] = 64 // max fields

	mapping := make([]byte, 8)
	mapping[0], mapping[1] = 0x01, 0x02
	mapping[2] = 3
	mapping[3] = 4
	mapping[4], mapping[5] = 0, 2 // index 2
	body = append(body, mapping...)

	reply, err := DecodeTlvTableReply(10, body)
	require.NoError(t, err)
	require.Len(t, reply.Mappings, 1)
	require.True(t, reply.IndexUsed(2))
	require.False(t, reply.IndexUsed(0))

	m, ok := reply.Find(0x0102, 3, 4)
	require.True(t, ok)
	require.Equal(t, uint16(2), m.Index)
}

func TestTlvTableRequestMarshal(t *testing.T) {
	r := &TlvTableRequest{Xid: 5}
	b, err := r.MarshalBinary()
	require.NoError(t, err)

	var h Header
	require.NoError(t, h.UnmarshalBinary(b))
	require.Equal(t, TypeMultipartRequest, h.Type)
}
