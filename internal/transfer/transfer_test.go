package transfer

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coltreedb/repltree/internal/part"
	"github.com/coltreedb/repltree/pkg/types"
)

type fakeSource struct {
	dir string
}

func (f *fakeSource) Has(name part.Name) bool {
	_, err := os.Stat(filepath.Join(f.dir, name.String()))
	return err == nil
}

func (f *fakeSource) PartDir(name part.Name) string {
	return filepath.Join(f.dir, name.String())
}

func TestServerClientRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	n := part.MustParse("202301_1_1_0")
	partDir := filepath.Join(srcDir, n.String())
	require.NoError(t, os.MkdirAll(partDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(partDir, "data"), []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(partDir, "checksum"), []byte("deadbeef"), 0o644))

	srv := NewServer(&fakeSource{dir: srcDir}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resolve := func(ctx context.Context, peer types.ReplicaName) (string, error) {
		return ts.Listener.Addr().String(), nil
	}
	cl := NewClient(resolve, nil)

	destDir := t.TempDir()
	err := cl.Fetch(context.Background(), "peer1", n, destDir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(destDir, "data"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	sum, err := os.ReadFile(filepath.Join(destDir, "checksum"))
	require.NoError(t, err)
	require.Equal(t, "deadbeef", string(sum))
}

func TestServerRejectsMissingPart(t *testing.T) {
	srcDir := t.TempDir()
	srv := NewServer(&fakeSource{dir: srcDir}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resolve := func(ctx context.Context, peer types.ReplicaName) (string, error) {
		return ts.Listener.Addr().String(), nil
	}
	cl := NewClient(resolve, nil)

	destDir := t.TempDir()
	err := cl.Fetch(context.Background(), "peer1", part.MustParse("202301_9_9_0"), destDir)
	require.Error(t, err)
}
