// Package partstore is a minimal, concrete stand-in for the on-disk data
// part store spec.md declares out of scope ("the underlying on-disk
// data-part store (open, list, rename, drop, merge parts, checksum parts,
// select parts to merge)"). It gives the replication core something real
// to drive: a part is a directory of opaque files plus a checksum
// manifest; merging two parts concatenates their data files into a new
// directory spanning the union range, which is all the replication layer
// ever needs to observe. Layout and atomic-rename discipline follow
// _examples/kakao-varlog's internal/storagenode/volume.go.
package partstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/coltreedb/repltree/internal/part"
	"github.com/coltreedb/repltree/pkg/verrors"
)

// Info describes one part as the replication core needs to see it:
// enough to register it in the coordinator and to decide obsolescence.
type Info struct {
	Name           part.Name
	Checksum       string
	ApproxRowCount uint64
	SizeBytes      int64
}

// Store is a directory of parts on local disk:
//
//	<dir>/<name>/checksum
//	<dir>/<name>/data
//
// A part is considered obsolete once MarkObsolete marks it so (superseded
// by a covering part) and ObsoleteGrace has elapsed.
type Store struct {
	dir           string
	obsoleteGrace time.Duration

	mu        sync.Mutex
	obsoleted map[string]time.Time
}

// Open validates dir is a writable directory and returns a Store rooted
// there.
func Open(dir string, obsoleteGrace time.Duration) (*Store, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("partstore: %s is not a directory", dir)
	}
	return &Store{dir: dir, obsoleteGrace: obsoleteGrace, obsoleted: make(map[string]time.Time)}, nil
}

func (s *Store) partDir(name part.Name) string {
	return filepath.Join(s.dir, name.String())
}

func (s *Store) stagingDir(name part.Name) string {
	return filepath.Join(s.dir, "staging_"+name.String())
}

// List returns every part currently present (including ones flagged
// obsolete but not yet trimmed).
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, err := part.Parse(e.Name())
		if err != nil {
			continue // ignore ignored_*, staging_*, and foreign directories
		}
		info, err := s.infoOf(name)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return part.Less(out[i].Name, out[j].Name) })
	return out, nil
}

func (s *Store) Has(name part.Name) bool {
	_, err := os.Stat(s.partDir(name))
	return err == nil
}

// PartDir returns the on-disk directory holding name's files, for callers
// (such as internal/transfer's Server) that need to stream them directly.
func (s *Store) PartDir(name part.Name) string {
	return s.partDir(name)
}

// Info returns the current on-disk Info for name.
func (s *Store) Info(name part.Name) (Info, error) {
	return s.infoOf(name)
}

func (s *Store) infoOf(name part.Name) (Info, error) {
	sum, err := s.Checksum(name)
	if err != nil {
		return Info{}, err
	}
	size, rows, err := dirStats(s.partDir(name))
	if err != nil {
		return Info{}, err
	}
	return Info{Name: name, Checksum: sum, SizeBytes: size, ApproxRowCount: rows}, nil
}

// Checksum returns the part's checksum, computed over the sorted contents
// of every file under the part directory, read from the cached
// "checksum" manifest file written when the part was created.
func (s *Store) Checksum(name part.Name) (string, error) {
	b, err := os.ReadFile(filepath.Join(s.partDir(name), "checksum"))
	if os.IsNotExist(err) {
		return "", errors.Wrapf(verrors.ErrNotFound, "partstore: %s", name)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func dirStats(dir string) (size int64, approxRows uint64, err error) {
	err = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	// A part with no row-count manifest approximates row count from byte
	// size; real engines would read it from the part's own metadata.
	approxRows = uint64(size) / 64
	return size, approxRows, err
}

func computeChecksum(dir string) (string, error) {
	h := sha256.New()
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)
	for _, f := range files {
		fh, err := os.Open(f)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, fh)
		fh.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Stage creates a fresh staging directory that the caller fills with
// files before calling Commit with the intended final name.
func (s *Store) Stage(name part.Name) (dir string, err error) {
	dir = s.stagingDir(name)
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Commit finalizes a staged directory as name: computes and writes its
// checksum manifest, then atomically renames it into place, replacing any
// existing directory of that name. This is the "rename-and-replace" path
// both GET_PART and MERGE_PARTS commit through.
func (s *Store) Commit(stagingDir string, name part.Name) (Info, error) {
	sum, err := computeChecksum(stagingDir)
	if err != nil {
		return Info{}, err
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "checksum"), []byte(sum), 0o644); err != nil {
		return Info{}, err
	}
	dst := s.partDir(name)
	if err := os.RemoveAll(dst); err != nil {
		return Info{}, err
	}
	if err := os.Rename(stagingDir, dst); err != nil {
		return Info{}, err
	}
	return s.infoOf(name)
}

// Merge runs the local, naive merge of inputs into a staged directory for
// output: it concatenates each input's data file into the output's data
// file. The real column-merge
// algorithm (k-way merge of sorted columns by primary key) is the
// out-of-scope data-part store's job; replication only needs a
// byte-for-byte deterministic output so replicas converge, which a
// concatenation in canonical (sorted-by-name) order provides.
func (s *Store) Merge(ctx context.Context, inputs []part.Name, output part.Name) (string, error) {
	dir, err := s.Stage(output)
	if err != nil {
		return "", err
	}
	sorted := append([]part.Name(nil), inputs...)
	sort.Slice(sorted, func(i, j int) bool { return part.Less(sorted[i], sorted[j]) })
	for _, in := range sorted {
		select {
		case <-ctx.Done():
			os.RemoveAll(dir)
			return "", ctx.Err()
		default:
		}
		src := filepath.Join(s.partDir(in), "data")
		if err := appendFile(src, filepath.Join(dir, "data")); err != nil {
			os.RemoveAll(dir)
			return "", errors.Wrapf(err, "partstore: merge input %s", in)
		}
	}
	return dir, nil
}

func appendFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// Drop removes a part entirely.
func (s *Store) Drop(name part.Name) error {
	s.mu.Lock()
	delete(s.obsoleted, name.String())
	s.mu.Unlock()
	return os.RemoveAll(s.partDir(name))
}

// Ignore renames an unexpected local part aside with an "ignored_" prefix
// rather than deleting it, per spec.md §4.D's checkParts.
func (s *Store) Ignore(name part.Name) error {
	return os.Rename(s.partDir(name), filepath.Join(s.dir, "ignored_"+name.String()))
}

// MarkObsolete records that name has been superseded; it becomes eligible
// for ClearOldParts after obsoleteGrace has elapsed.
func (s *Store) MarkObsolete(name part.Name, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obsoleted[name.String()] = now
}

// ClearOldParts drops every part marked obsolete for longer than
// obsoleteGrace and returns the names it dropped, per spec.md §4.I's
// clearOldParts.
func (s *Store) ClearOldParts(now time.Time) ([]part.Name, error) {
	s.mu.Lock()
	var due []string
	for name, since := range s.obsoleted {
		if now.Sub(since) >= s.obsoleteGrace {
			due = append(due, name)
		}
	}
	for _, name := range due {
		delete(s.obsoleted, name)
	}
	s.mu.Unlock()

	var dropped []part.Name
	for _, n := range due {
		name, err := part.Parse(n)
		if err != nil {
			continue
		}
		if err := s.Drop(name); err != nil && !os.IsNotExist(err) {
			return dropped, err
		}
		dropped = append(dropped, name)
	}
	return dropped, nil
}
