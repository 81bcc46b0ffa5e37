package partstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coltreedb/repltree/internal/part"
)

func writePart(t *testing.T, s *Store, name part.Name, content string) Info {
	t.Helper()
	dir, err := s.Stage(name)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data"), []byte(content), 0o644))
	info, err := s.Commit(dir, name)
	require.NoError(t, err)
	return info
}

func TestCommitAndList(t *testing.T) {
	s, err := Open(t.TempDir(), time.Minute)
	require.NoError(t, err)

	n := part.MustParse("202301_1_1_0")
	info := writePart(t, s, n, "hello")
	require.NotEmpty(t, info.Checksum)
	require.True(t, s.Has(n))

	parts, err := s.List()
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, n, parts[0].Name)
}

func TestChecksumDeterministic(t *testing.T) {
	s, err := Open(t.TempDir(), time.Minute)
	require.NoError(t, err)
	n := part.MustParse("202301_1_1_0")
	info1 := writePart(t, s, n, "hello")
	require.NoError(t, s.Drop(n))
	info2 := writePart(t, s, n, "hello")
	require.Equal(t, info1.Checksum, info2.Checksum)
}

func TestMergeConcatenatesInputs(t *testing.T) {
	s, err := Open(t.TempDir(), time.Minute)
	require.NoError(t, err)
	a := part.MustParse("202301_1_1_0")
	b := part.MustParse("202301_2_2_0")
	out := part.MustParse("202301_1_2_1")

	writePart(t, s, a, "A")
	writePart(t, s, b, "B")

	dir, err := s.Merge(context.Background(), []part.Name{a, b}, out)
	require.NoError(t, err)
	info, err := s.Commit(dir, out)
	require.NoError(t, err)
	require.True(t, s.Has(out))
	require.Greater(t, info.SizeBytes, int64(0))
}

func TestClearOldPartsRespectsGrace(t *testing.T) {
	s, err := Open(t.TempDir(), time.Hour)
	require.NoError(t, err)
	n := part.MustParse("202301_1_1_0")
	writePart(t, s, n, "x")

	now := time.Now()
	s.MarkObsolete(n, now)

	dropped, err := s.ClearOldParts(now)
	require.NoError(t, err)
	require.Empty(t, dropped)
	require.True(t, s.Has(n))

	dropped, err = s.ClearOldParts(now.Add(2 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, []part.Name{n}, dropped)
	require.False(t, s.Has(n))
}

func TestIgnoreRenamesAside(t *testing.T) {
	s, err := Open(t.TempDir(), time.Minute)
	require.NoError(t, err)
	n := part.MustParse("202301_1_1_0")
	writePart(t, s, n, "x")

	require.NoError(t, s.Ignore(n))
	require.False(t, s.Has(n))
	_, err = os.Stat(filepath.Join(s.dir, "ignored_"+n.String()))
	require.NoError(t, err)
}
