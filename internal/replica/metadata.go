package replica

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/coltreedb/repltree/pkg/verrors"
)

// Column is one ordered column of the local table's data model, named
// with quotes and typed with a type string, per spec.md §4.D.2.
type Column struct {
	Name string
	Type string
}

// TableMetadata is the local table's own configuration, serialized
// byte-for-byte identically to the coordinator's copy during checkStructure
// (spec.md §4.D.3, §6). Fields not owned by this subsystem (the data
// model's storage engine internals) are carried as opaque strings, the
// way this component only needs to compare them, never interpret them.
type TableMetadata struct {
	DateColumn         string
	SamplingExpression string // empty string permitted
	IndexGranularity   int
	Mode               int
	SignColumn         string
	PrimaryKey         string
	Columns            []Column
}

const metadataFormatVersion = 1

// Encode renders metadata in the fixed line sequence spec.md §6 defines.
// The sequence (and therefore the byte encoding) is deterministic in the
// Columns order given, which callers must keep stable across the
// lifetime of a table.
func (m TableMetadata) Encode() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "metadata format version: %d\n", metadataFormatVersion)
	fmt.Fprintf(&b, "date column: %s\n", m.DateColumn)
	fmt.Fprintf(&b, "sampling expression: %s\n", m.SamplingExpression)
	fmt.Fprintf(&b, "index granularity: %d\n", m.IndexGranularity)
	fmt.Fprintf(&b, "mode: %d\n", m.Mode)
	fmt.Fprintf(&b, "sign column: %s\n", m.SignColumn)
	fmt.Fprintf(&b, "primary key: %s\n", m.PrimaryKey)
	b.WriteString("columns:\n")
	for _, c := range m.Columns {
		fmt.Fprintf(&b, "`%s` %s\n", c.Name, c.Type)
	}
	return []byte(b.String())
}

// DecodeMetadata parses the format Encode produces. It rejects any
// structural divergence with ErrMalformedLogEntry's sibling,
// ErrMetadataMismatch, since a coordinator-side metadata blob that does
// not even parse can never match a local one.
func DecodeMetadata(b []byte) (TableMetadata, error) {
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) < 8 {
		return TableMetadata{}, errors.Wrap(verrors.ErrMetadataMismatch, "metadata: too few lines")
	}

	var m TableMetadata
	expectPrefix := func(i int, prefix string) (string, error) {
		if !strings.HasPrefix(lines[i], prefix) {
			return "", errors.Wrapf(verrors.ErrMetadataMismatch, "metadata: expected %q at line %d", prefix, i)
		}
		return strings.TrimPrefix(lines[i], prefix), nil
	}

	versionStr, err := expectPrefix(0, "metadata format version: ")
	if err != nil {
		return TableMetadata{}, err
	}
	if versionStr != strconv.Itoa(metadataFormatVersion) {
		return TableMetadata{}, errors.Wrapf(verrors.ErrMetadataMismatch, "metadata: unsupported version %q", versionStr)
	}

	if m.DateColumn, err = expectPrefix(1, "date column: "); err != nil {
		return TableMetadata{}, err
	}
	if m.SamplingExpression, err = expectPrefix(2, "sampling expression: "); err != nil {
		return TableMetadata{}, err
	}
	granStr, err := expectPrefix(3, "index granularity: ")
	if err != nil {
		return TableMetadata{}, err
	}
	if m.IndexGranularity, err = strconv.Atoi(granStr); err != nil {
		return TableMetadata{}, errors.Wrap(verrors.ErrMetadataMismatch, "metadata: bad index granularity")
	}
	modeStr, err := expectPrefix(4, "mode: ")
	if err != nil {
		return TableMetadata{}, err
	}
	if m.Mode, err = strconv.Atoi(modeStr); err != nil {
		return TableMetadata{}, errors.Wrap(verrors.ErrMetadataMismatch, "metadata: bad mode")
	}
	if m.SignColumn, err = expectPrefix(5, "sign column: "); err != nil {
		return TableMetadata{}, err
	}
	if m.PrimaryKey, err = expectPrefix(6, "primary key: "); err != nil {
		return TableMetadata{}, err
	}
	if lines[7] != "columns:" {
		return TableMetadata{}, errors.Wrap(verrors.ErrMetadataMismatch, "metadata: expected columns: header")
	}
	for _, line := range lines[8:] {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], "`") || !strings.HasSuffix(parts[0], "`") {
			return TableMetadata{}, errors.Wrapf(verrors.ErrMetadataMismatch, "metadata: malformed column line %q", line)
		}
		m.Columns = append(m.Columns, Column{Name: strings.Trim(parts[0], "`"), Type: parts[1]})
	}
	return m, nil
}

// Matches reports byte-for-byte equality between m and other's encodings,
// the exact check checkStructure performs (spec.md §4.D.3).
func (m TableMetadata) Matches(other TableMetadata) bool {
	return string(m.Encode()) == string(other.Encode())
}
