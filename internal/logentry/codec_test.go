package logentry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coltreedb/repltree/pkg/types"
	"github.com/coltreedb/repltree/pkg/verrors"
)

func TestCodecRoundTripGet(t *testing.T) {
	e := Get("202301_1_1_0", "r1")
	got, err := Decode(Encode(e))
	require.NoError(t, err)
	require.True(t, e.Equal(got))
}

func TestCodecRoundTripMerge(t *testing.T) {
	e := Merge("202301_1_4_1", []string{"202301_1_1_0", "202301_2_2_0", "202301_3_4_0"}, "r2")
	got, err := Decode(Encode(e))
	require.NoError(t, err)
	require.True(t, e.Equal(got))
}

func TestCodecRoundTripEmptySourceReplica(t *testing.T) {
	e := Get("202301_1_1_0", "")
	got, err := Decode(Encode(e))
	require.NoError(t, err)
	require.True(t, e.Equal(got))
}

func TestCodecRejectsBadVersion(t *testing.T) {
	bad := []byte("format version: 2\nsource replica: \nget\n202301_1_1_0\n\n")
	_, err := Decode(bad)
	require.ErrorIs(t, err, verrors.ErrMalformedLogEntry)
}

func TestCodecRejectsMissingSentinel(t *testing.T) {
	bad := []byte("format version: 1\nsource replica: \nmerge\n202301_1_1_0\n202301_1_4_1\n\n")
	_, err := Decode(bad)
	require.ErrorIs(t, err, verrors.ErrMalformedLogEntry)
}

func TestCodecRejectsTruncated(t *testing.T) {
	_, err := Decode([]byte("format version: 1\n"))
	require.ErrorIs(t, err, verrors.ErrMalformedLogEntry)
}

// TestCodecRoundTripProperty checks decode(encode(e)) == e across a sweep
// of valid entries, per spec.md §8's codec invariant. Generated values are
// restricted to the newline-free alphabet that every real part/replica
// name is drawn from, since the wire format is itself line-based.
func TestCodecRoundTripProperty(t *testing.T) {
	sources := []types.ReplicaName{"", "r1", "replica-02"}
	partsPool := []string{"202301_1_1_0", "202301_2_2_0", "202301_3_4_1", "202312_0_9_2"}

	for _, source := range sources {
		for _, newPart := range partsPool {
			e := Get(newPart, source)
			got, err := Decode(Encode(e))
			require.NoError(t, err)
			require.Truef(t, e.Equal(got), "get round trip: %+v != %+v", e, got)
		}
	}

	for _, source := range sources {
		for n := 1; n <= len(partsPool); n++ {
			inputs := append([]string(nil), partsPool[:n]...)
			e := Merge(fmt.Sprintf("merged_%d", n), inputs, source)
			got, err := Decode(Encode(e))
			require.NoError(t, err)
			require.Truef(t, e.Equal(got), "merge round trip: %+v != %+v", e, got)
		}
	}
}
