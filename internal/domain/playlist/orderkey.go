package playlist

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// keyWidth is the base-36 width of the largest uint64.
const keyWidth = 13

// counterBits leaves room for 4096 keys per millisecond before the minter
// runs ahead of the clock.
const counterBits = 12

// OrderKey is a fixed-width base-36 sort key. Lexicographic order matches
// numeric order.
type OrderKey string

// EncodeKey renders v as an OrderKey.
func EncodeKey(v uint64) OrderKey {
	s := strconv.FormatUint(v, 36)
	return OrderKey(strings.Repeat("0", keyWidth-len(s)) + s)
}

// Value decodes the key.
func (k OrderKey) Value() (uint64, error) {
	if len(k) != keyWidth {
		return 0, errors.Newf("invalid order key %q", string(k))
	}
	v, err := strconv.ParseUint(string(k), 36, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid order key %q", string(k))
	}
	return v, nil
}

// Minter hands out strictly increasing keys.
type Minter struct {
	mu   sync.Mutex
	now  func() time.Time
	last uint64
}

// NewMinter creates a minter using now as its clock. A nil clock uses time.Now.
func NewMinter(now func() time.Time) *Minter {
	if now == nil {
		now = time.Now
	}
	return &Minter{now: now}
}

// Next returns a key greater than every key minted or observed so far.
func (m *Minter) Next() OrderKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := uint64(m.now().UnixMilli()) << counterBits
	if v <= m.last {
		v = m.last + 1
	}
	m.last = v
	return EncodeKey(v)
}

// Observe raises the floor so later keys sort after k.
func (m *Minter) Observe(k OrderKey) error {
	v, err := k.Value()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v > m.last {
		m.last = v
	}
	return nil
}
