package pptt

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/zenithax-cc/qilin/pkg/utils"
)

const (
	defaultACPIRoot = "/sys/firmware/acpi/tables"
	tableFileName   = "PPTT"

	// maxTableSize bounds a single read; firmware tables are far
	// smaller in practice.
	maxTableSize = 1 << 20
)

var (
	ErrTableUnavailable = errors.New("pptt: no table available")
	ErrInvalidChecksum  = errors.New("pptt: invalid table checksum")
)

// TableError wraps an acquisition failure with the operation and path
// that produced it.
type TableError struct {
	Op   string
	Path string
	Err  error
}

func (e *TableError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("pptt %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("pptt %s: %v", e.Op, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func (e *TableError) Is(target error) bool {
	t, ok := target.(*TableError)
	if !ok {
		return false
	}
	return (t.Op == "" || e.Op == t.Op) && (t.Path == "" || e.Path == t.Path)
}

// tableSource reads table instances from one well-known file exported
// by the platform firmware.
type tableSource struct {
	path string
}

func newTableSource(root string) *tableSource {
	if root == "" {
		root = defaultACPIRoot
	}
	return &tableSource{path: filepath.Join(root, tableFileName)}
}

func (s *tableSource) available() bool {
	return utils.FileExists(s.path)
}

// acquire reads and validates a fresh table instance. The returned
// release function detaches the buffer; callers defer it so every exit
// path of a query releases exactly once.
func (s *tableSource) acquire() (*Table, func(), error) {
	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrTableUnavailable
		}
		return nil, nil, &TableError{Op: "open", Path: s.path, Err: err}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxTableSize))
	if err != nil {
		return nil, nil, &TableError{Op: "read", Path: s.path, Err: err}
	}

	table, err := NewTable(data)
	if err != nil {
		return nil, nil, err
	}

	if sum := checksum(table.data); sum != 0 {
		return nil, nil, fmt.Errorf("%w: byte sum %#02x", ErrInvalidChecksum, sum)
	}

	log.Debug().Str("oem", table.oemID).Uint8("revision", table.revision).
		Int("records", table.recordCount).Msg("pptt: table acquired")

	return table, table.release, nil
}

// checksum sums the table bytes modulo 256; a well-formed ACPI table
// sums to zero including its checksum byte.
func checksum(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return sum
}
