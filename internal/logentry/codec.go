package logentry

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/coltreedb/repltree/pkg/types"
	"github.com/coltreedb/repltree/pkg/verrors"
)

const formatVersion = 1

const (
	headerFormatVersion = "format version: "
	headerSourceReplica = "source replica: "
	sentinelInto        = "into"
)

// Encode serializes e in the version-1 framed text format described in
// spec.md §6:
//
//	format version: 1
//	source replica: <name or empty>
//	<get|merge>
//	<name>            ; get: the new part name; merge: first input
//	...               ; merge only: further inputs
//	into              ; merge only: sentinel
//	<new_part_name>   ; merge only
//	<blank line>
func Encode(e Entry) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s%d\n", headerFormatVersion, formatVersion)
	fmt.Fprintf(&buf, "%s%s\n", headerSourceReplica, e.SourceReplica)
	fmt.Fprintf(&buf, "%s\n", e.Kind)
	switch e.Kind {
	case KindGet:
		fmt.Fprintf(&buf, "%s\n", e.NewPartName)
	case KindMerge:
		for _, p := range e.PartsToMerge {
			fmt.Fprintf(&buf, "%s\n", p)
		}
		fmt.Fprintf(&buf, "%s\n%s\n", sentinelInto, e.NewPartName)
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// Decode parses the version-1 framed text format, returning
// verrors.ErrMalformedLogEntry if the header version is not 1 or the
// structure is otherwise invalid.
func Decode(b []byte) (Entry, error) {
	sc := bufio.NewScanner(bytes.NewReader(b))
	lines := make([]string, 0, 8)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return Entry{}, errors.Wrap(err, "logentry: scan")
	}
	// Trailing blank line(s) are framing, not content.
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 3 {
		return Entry{}, errors.Wrapf(verrors.ErrMalformedLogEntry, "too few lines (%d)", len(lines))
	}

	if !strings.HasPrefix(lines[0], headerFormatVersion) {
		return Entry{}, errors.Wrapf(verrors.ErrMalformedLogEntry, "missing header on %q", lines[0])
	}
	version, err := strconv.Atoi(strings.TrimPrefix(lines[0], headerFormatVersion))
	if err != nil || version != formatVersion {
		return Entry{}, errors.Wrapf(verrors.ErrMalformedLogEntry, "unsupported format version %q", lines[0])
	}

	if !strings.HasPrefix(lines[1], headerSourceReplica) {
		return Entry{}, errors.Wrapf(verrors.ErrMalformedLogEntry, "missing source replica on %q", lines[1])
	}
	source := types.ReplicaName(strings.TrimPrefix(lines[1], headerSourceReplica))

	kindLine := lines[2]
	rest := lines[3:]

	switch kindLine {
	case KindGet.String():
		if len(rest) != 1 || rest[0] == "" {
			return Entry{}, errors.Wrapf(verrors.ErrMalformedLogEntry, "get entry needs exactly one part name, got %v", rest)
		}
		return Get(rest[0], source), nil
	case KindMerge.String():
		sentinelIdx := -1
		for i, l := range rest {
			if l == sentinelInto {
				sentinelIdx = i
				break
			}
		}
		if sentinelIdx < 0 {
			return Entry{}, errors.Wrapf(verrors.ErrMalformedLogEntry, "merge entry missing %q sentinel", sentinelInto)
		}
		inputs := rest[:sentinelIdx]
		tail := rest[sentinelIdx+1:]
		if len(inputs) == 0 || len(tail) != 1 || tail[0] == "" {
			return Entry{}, errors.Wrapf(verrors.ErrMalformedLogEntry, "merge entry malformed: inputs=%v tail=%v", inputs, tail)
		}
		return Merge(tail[0], inputs, source), nil
	default:
		return Entry{}, errors.Wrapf(verrors.ErrMalformedLogEntry, "unknown kind %q", kindLine)
	}
}
