package pptt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	tableHeaderSize    = 36
	subtableHeaderSize = 2

	signature = "PPTT"
)

// table header field offsets
const (
	lengthOffset   = 4
	revisionOffset = 8
	checksumOffset = 9
	oemIDOffset    = 10
	oemIDLength    = 6
)

// subtable record kinds
const (
	typeProcessor uint8 = 0
	typeCache     uint8 = 1
	typeID        uint8 = 2
)

var (
	ErrTableTooShort    = errors.New("pptt: table shorter than header")
	ErrInvalidSignature = errors.New("pptt: invalid table signature")
	ErrInvalidLength    = errors.New("pptt: invalid table length")
)

// Table is one acquired PPTT instance. The buffer is immutable for the
// lifetime of a query; the declared header length is the authoritative
// bound for every reference resolved against it.
type Table struct {
	data        []byte
	revision    uint8
	oemID       string
	recordCount int

	malformedOnce sync.Once
}

// NewTable validates the fixed table header and wraps the buffer. The
// buffer is truncated to the declared length; the record count is taken
// once here and bounds every later chain and ascent walk.
func NewTable(data []byte) (*Table, error) {
	if len(data) < tableHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTableTooShort, len(data))
	}
	if sig := string(data[:len(signature)]); sig != signature {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSignature, sig)
	}

	declared := int(binary.LittleEndian.Uint32(data[lengthOffset : lengthOffset+4]))
	if declared < tableHeaderSize || declared > len(data) {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrInvalidLength, declared, len(data))
	}

	t := &Table{
		data:     data[:declared],
		revision: data[revisionOffset],
		oemID:    strings.TrimRight(string(data[oemIDOffset:oemIDOffset+oemIDLength]), " \x00"),
	}
	t.scanRecords(func(node) bool {
		t.recordCount++
		return true
	})

	return t, nil
}

// release detaches the buffer. Every later read through this Table
// answers zero or absent; views created from it degrade the same way.
func (t *Table) release() {
	t.data = nil
}

func (t *Table) length() int {
	return len(t.data)
}

func (t *Table) checkBounds(offset, length int) bool {
	return offset >= 0 && length > 0 && offset+length <= len(t.data)
}

func (t *Table) byteAt(offset int) uint8 {
	if !t.checkBounds(offset, 1) {
		return 0
	}
	return t.data[offset]
}

func (t *Table) wordAt(offset int) uint16 {
	if !t.checkBounds(offset, 2) {
		return 0
	}
	return binary.LittleEndian.Uint16(t.data[offset : offset+2])
}

func (t *Table) dwordAt(offset int) uint32 {
	if !t.checkBounds(offset, 4) {
		return 0
	}
	return binary.LittleEndian.Uint32(t.data[offset : offset+4])
}

// node is a (table, offset) view of one subtable record. Views are
// transient: they mean something only while the acquisition that
// produced them is held.
type node struct {
	t   *Table
	off int
}

func (n node) kind() uint8 {
	return n.t.byteAt(n.off)
}

func (n node) recordLen() int {
	return int(n.t.byteAt(n.off + 1))
}

// subtableAt resolves a relative reference to a record view. Reference
// 0 is the "no reference" sentinel and anything below the subtable
// header size cannot be a record; past that, both the record header and
// its declared length must fit inside the table.
func (t *Table) subtableAt(ref int) (node, bool) {
	if ref < subtableHeaderSize {
		return node{}, false
	}
	if ref+subtableHeaderSize > t.length() {
		return node{}, false
	}
	n := node{t: t, off: ref}
	if ref+n.recordLen() > t.length() {
		return node{}, false
	}
	return n, true
}

// scanRecords visits records in table order from the first subtable,
// stepping by each record's declared length, until fn returns false. A
// record whose header does not fit strictly before the table end is not
// visited. A zero length record marks the table malformed: the scan
// stops there and whatever was found before it stands.
func (t *Table) scanRecords(fn func(node) bool) {
	for off := tableHeaderSize; off+subtableHeaderSize < t.length(); {
		n := node{t: t, off: off}
		step := n.recordLen()
		if step == 0 {
			t.malformedOnce.Do(func() {
				log.Error().Int("offset", off).Msg("pptt: invalid zero length subtable")
			})
			return
		}
		if !fn(n) {
			return
		}
		off += step
	}
}
