package transforms

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/dchest/siphash"

	"github.com/sandboxws/isotope/execcore/pkg/chunk"
)

// setMethod names one dedup-set layout. The layout is picked from the
// column types, so it stays the same for every chunk of a stream.
type setMethod int

const (
	methodEmpty setMethod = iota
	methodKey64
	methodKeys128
	methodKeyString
	methodHashed128
)

func (m setMethod) String() string {
	switch m {
	case methodKey64:
		return "key64"
	case methodKeys128:
		return "keys128"
	case methodKeyString:
		return "key_string"
	case methodHashed128:
		return "hashed128"
	default:
		return "empty"
	}
}

// Fixed SipHash key: the set only needs a stable hash within one process.
const (
	sipKey0 = 0x736f6d6570736575
	sipKey1 = 0x646f72616e646f6d
)

// distinctSet is a clearable set of composite row keys built from the
// "other" columns of a chunk.
type distinctSet interface {
	method() setMethod
	// bind points the set at the columns of the current chunk.
	bind(cols []chunk.Column)
	// insert adds the key of row and reports whether it was not present.
	insert(row int) bool
	clear()
	len() int
	byteSize() uint64
}

func chooseSetMethod(cols []chunk.Column) setMethod {
	if len(cols) == 0 {
		return methodEmpty
	}
	if len(cols) == 1 {
		dt := cols[0].DataType()
		if fixedWidth(dt) > 0 {
			return methodKey64
		}
		if isStringLike(dt) {
			return methodKeyString
		}
		return methodHashed128
	}
	// One leading byte holds the null mask of up to eight columns.
	total := 1
	for _, col := range cols {
		w := fixedWidth(col.DataType())
		if w == 0 {
			return methodHashed128
		}
		total += w
	}
	if len(cols) <= 8 && total <= 16 {
		return methodKeys128
	}
	return methodHashed128
}

func newDistinctSet(m setMethod) distinctSet {
	switch m {
	case methodKey64:
		return &key64Set{data: make(map[uint64]struct{})}
	case methodKeys128:
		return &keys128Set{data: make(map[[2]uint64]struct{})}
	case methodKeyString:
		return &keyStringSet{data: make(map[string]struct{})}
	case methodHashed128:
		return &hashed128Set{data: make(map[[2]uint64]struct{})}
	default:
		return nil
	}
}

func fixedWidth(dt arrow.DataType) int {
	switch dt.ID() {
	case arrow.BOOL, arrow.INT8, arrow.UINT8:
		return 1
	case arrow.INT16, arrow.UINT16:
		return 2
	case arrow.INT32, arrow.UINT32, arrow.FLOAT32, arrow.DATE32, arrow.TIME32:
		return 4
	case arrow.INT64, arrow.UINT64, arrow.FLOAT64, arrow.DATE64, arrow.TIME64,
		arrow.TIMESTAMP, arrow.DURATION:
		return 8
	default:
		return 0
	}
}

func isStringLike(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.BINARY, arrow.LARGE_BINARY:
		return true
	default:
		return false
	}
}

// fixedBits returns the bit pattern of a fixed-width value.
func fixedBits(arr arrow.Array, i int) uint64 {
	switch a := arr.(type) {
	case *array.Boolean:
		if a.Value(i) {
			return 1
		}
		return 0
	case *array.Int8:
		return uint64(uint8(a.Value(i)))
	case *array.Uint8:
		return uint64(a.Value(i))
	case *array.Int16:
		return uint64(uint16(a.Value(i)))
	case *array.Uint16:
		return uint64(a.Value(i))
	case *array.Int32:
		return uint64(uint32(a.Value(i)))
	case *array.Uint32:
		return uint64(a.Value(i))
	case *array.Float32:
		return uint64(math.Float32bits(a.Value(i)))
	case *array.Date32:
		return uint64(uint32(a.Value(i)))
	case *array.Time32:
		return uint64(uint32(a.Value(i)))
	case *array.Int64:
		return uint64(a.Value(i))
	case *array.Uint64:
		return a.Value(i)
	case *array.Float64:
		return math.Float64bits(a.Value(i))
	case *array.Date64:
		return uint64(a.Value(i))
	case *array.Time64:
		return uint64(a.Value(i))
	case *array.Timestamp:
		return uint64(a.Value(i))
	case *array.Duration:
		return uint64(a.Value(i))
	default:
		return 0
	}
}

// stringBytes returns the bytes of a string-like value without copying.
func stringBytes(arr arrow.Array, i int) []byte {
	switch a := arr.(type) {
	case *array.String:
		return []byte(a.Value(i))
	case *array.LargeString:
		return []byte(a.Value(i))
	case *array.Binary:
		return a.Value(i)
	case *array.LargeBinary:
		return a.Value(i)
	default:
		return []byte(arr.ValueStr(i))
	}
}

// ── key64: one fixed-width column ───────────────────────────────────

type key64Set struct {
	col     chunk.Column
	data    map[uint64]struct{}
	hasNull bool
}

func (s *key64Set) method() setMethod         { return methodKey64 }
func (s *key64Set) bind(cols []chunk.Column) { s.col = cols[0] }

func (s *key64Set) insert(row int) bool {
	if s.col.IsNull(row) {
		seen := s.hasNull
		s.hasNull = true
		return !seen
	}
	k := fixedBits(s.col.Values(), s.col.ValueIndex(row))
	if _, ok := s.data[k]; ok {
		return false
	}
	s.data[k] = struct{}{}
	return true
}

func (s *key64Set) clear() {
	clear(s.data)
	s.hasNull = false
}

func (s *key64Set) len() int {
	n := len(s.data)
	if s.hasNull {
		n++
	}
	return n
}

func (s *key64Set) byteSize() uint64 { return uint64(len(s.data)) * 16 }

// ── keys128: several fixed-width columns packed into 16 bytes ───────

type keys128Set struct {
	cols []chunk.Column
	data map[[2]uint64]struct{}
}

func (s *keys128Set) method() setMethod         { return methodKeys128 }
func (s *keys128Set) bind(cols []chunk.Column) { s.cols = cols }

func (s *keys128Set) insert(row int) bool {
	var buf [16]byte
	off := 1
	for i, col := range s.cols {
		w := fixedWidth(col.DataType())
		if col.IsNull(row) {
			buf[0] |= 1 << i
		} else {
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], fixedBits(col.Values(), col.ValueIndex(row)))
			copy(buf[off:off+w], tmp[:w])
		}
		off += w
	}
	k := [2]uint64{binary.LittleEndian.Uint64(buf[:8]), binary.LittleEndian.Uint64(buf[8:])}
	if _, ok := s.data[k]; ok {
		return false
	}
	s.data[k] = struct{}{}
	return true
}

func (s *keys128Set) clear()           { clear(s.data) }
func (s *keys128Set) len() int         { return len(s.data) }
func (s *keys128Set) byteSize() uint64 { return uint64(len(s.data)) * 24 }

// ── key_string: one string or binary column ─────────────────────────

type keyStringSet struct {
	col         chunk.Column
	data        map[string]struct{}
	hasNull     bool
	stringBytes uint64
}

func (s *keyStringSet) method() setMethod         { return methodKeyString }
func (s *keyStringSet) bind(cols []chunk.Column) { s.col = cols[0] }

func (s *keyStringSet) insert(row int) bool {
	if s.col.IsNull(row) {
		seen := s.hasNull
		s.hasNull = true
		return !seen
	}
	arr, idx := s.col.Values(), s.col.ValueIndex(row)
	var key string
	switch a := arr.(type) {
	case *array.String:
		key = a.Value(idx)
	case *array.LargeString:
		key = a.Value(idx)
	default:
		b := stringBytes(arr, idx)
		if _, ok := s.data[string(b)]; ok {
			return false
		}
		s.data[string(b)] = struct{}{}
		s.stringBytes += uint64(len(b))
		return true
	}
	if _, ok := s.data[key]; ok {
		return false
	}
	// Arrow string values alias the column buffer, which is released
	// after the chunk is filtered.
	s.data[strings.Clone(key)] = struct{}{}
	s.stringBytes += uint64(len(key))
	return true
}

func (s *keyStringSet) clear() {
	clear(s.data)
	s.hasNull = false
	s.stringBytes = 0
}

func (s *keyStringSet) len() int {
	n := len(s.data)
	if s.hasNull {
		n++
	}
	return n
}

func (s *keyStringSet) byteSize() uint64 { return uint64(len(s.data))*16 + s.stringBytes }

// ── hashed128: any column mix, keyed by SipHash-128 of the row ──────

type hashed128Set struct {
	cols []chunk.Column
	data map[[2]uint64]struct{}
	buf  []byte
}

func (s *hashed128Set) method() setMethod         { return methodHashed128 }
func (s *hashed128Set) bind(cols []chunk.Column) { s.cols = cols }

func (s *hashed128Set) insert(row int) bool {
	buf := s.buf[:0]
	for _, col := range s.cols {
		if col.IsNull(row) {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		arr, idx := col.Values(), col.ValueIndex(row)
		switch {
		case fixedWidth(arr.DataType()) > 0:
			buf = binary.LittleEndian.AppendUint64(buf, fixedBits(arr, idx))
		case isStringLike(arr.DataType()):
			b := stringBytes(arr, idx)
			buf = binary.AppendUvarint(buf, uint64(len(b)))
			buf = append(buf, b...)
		default:
			v := arr.ValueStr(idx)
			buf = binary.AppendUvarint(buf, uint64(len(v)))
			buf = append(buf, v...)
		}
	}
	s.buf = buf

	h0, h1 := siphash.Hash128(sipKey0, sipKey1, buf)
	k := [2]uint64{h0, h1}
	if _, ok := s.data[k]; ok {
		return false
	}
	s.data[k] = struct{}{}
	return true
}

func (s *hashed128Set) clear()           { clear(s.data) }
func (s *hashed128Set) len() int         { return len(s.data) }
func (s *hashed128Set) byteSize() uint64 { return uint64(len(s.data)) * 24 }
