package spotcheck

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// maskHeader identifies the on-disk format: 64-bit words, bit i of the
// mask is bit (i mod 64) of word (i / 64), least significant bit first.
const maskHeader = "# bitmask v1 words=%d bits=64 order=lsb0"

// Mask is a dense id set; bit i is content id i.
type Mask struct {
	bits *bitset.BitSet
}

// NewMask returns an empty mask addressing at least n bits.
func NewMask(n uint) *Mask {
	return &Mask{bits: bitset.New(n)}
}

// FromIDs returns a mask with the given ids set.
func FromIDs(ids ...int) *Mask {
	m := NewMask(0)
	for _, id := range ids {
		m.Set(id)
	}
	return m
}

// Set marks id.
func (m *Mask) Set(id int) {
	if id < 0 {
		return
	}
	m.bits.Set(uint(id))
}

// Test reports whether id is marked.
func (m *Mask) Test(id int) bool {
	return id >= 0 && m.bits.Test(uint(id))
}

// Len is the number of addressable bits.
func (m *Mask) Len() uint {
	return m.bits.Len()
}

// Count is the number of marked ids.
func (m *Mask) Count() uint {
	return m.bits.Count()
}

// CountUpTo is the number of marked ids in [0, maxID].
func (m *Mask) CountUpTo(maxID int) int {
	if maxID < 0 {
		return 0
	}
	n := int(m.bits.Count())
	for i, ok := m.bits.NextSet(uint(maxID) + 1); ok; i, ok = m.bits.NextSet(i + 1) {
		n--
	}
	return n
}

// Grow extends the mask so that Len() > maxID.
func (m *Mask) Grow(maxID int) {
	if maxID < 0 || m.bits.Len() > uint(maxID) {
		return
	}
	id := uint(maxID)
	if m.bits.Test(id) {
		return
	}
	m.bits.Set(id)
	m.bits.Clear(id)
}

// Full reports whether every addressable bit is set. An empty mask is
// not full.
func (m *Mask) Full() bool {
	return m.bits.Len() > 0 && m.bits.All()
}

// Union returns m OR o.
func (m *Mask) Union(o *Mask) *Mask {
	return &Mask{bits: m.bits.Union(o.bits)}
}

// Clone returns a copy.
func (m *Mask) Clone() *Mask {
	return &Mask{bits: m.bits.Clone()}
}

// NextClear returns the first unmarked id at or after from, within Len.
func (m *Mask) NextClear(from int) (int, bool) {
	i, ok := m.bits.NextClear(uint(from))
	return int(i), ok
}

// IDs returns the marked ids in ascending order.
func (m *Mask) IDs() []int {
	ids := make([]int, 0, m.bits.Count())
	for i, ok := m.bits.NextSet(0); ok; i, ok = m.bits.NextSet(i + 1) {
		ids = append(ids, int(i))
	}
	return ids
}

// Merge combines a partial scan with the previous mask: ids in visited
// take their value from fresh, all others keep their value from old.
func Merge(old, fresh, visited *Mask) *Mask {
	kept := old.bits.Difference(visited.bits)
	updated := fresh.bits.Intersection(visited.bits)
	return &Mask{bits: kept.Union(updated)}
}

// WriteTo writes the v1 format.
func (m *Mask) WriteTo(w io.Writer) (int64, error) {
	words := m.bits.Words()
	bw := bufio.NewWriter(w)

	var n int64
	c, err := fmt.Fprintf(bw, maskHeader+"\n", len(words))
	n += int64(c)
	if err != nil {
		return n, err
	}
	for _, word := range words {
		c, err := bw.WriteString(strconv.FormatInt(int64(word), 10) + "\n")
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// ReadMask parses the v1 format. Lines starting with '#' are skipped, so
// legacy files without a header read the same way.
func ReadMask(r io.Reader) (*Mask, error) {
	var words []uint64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid mask word %q: %w", line, err)
		}
		words = append(words, uint64(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mask: %w", err)
	}
	return &Mask{bits: bitset.From(words)}, nil
}

// LoadMask reads a mask file. A missing file reports ok false.
func LoadMask(path string) (*Mask, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to open mask: %w", err)
	}
	defer f.Close()

	m, err := ReadMask(f)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	return m, true, nil
}

// SaveMask grows m past maxID and writes it to path.
func SaveMask(path string, m *Mask, maxID int) error {
	m.Grow(maxID)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create mask directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create mask: %w", err)
	}
	if _, err := m.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write mask: %w", err)
	}
	return f.Close()
}
