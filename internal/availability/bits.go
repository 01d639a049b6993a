package availability

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

const (
	SlotMinutes = 30
	DayMinutes  = 24 * 60
	SlotsPerDay = DayMinutes / SlotMinutes
	BytesPerDay = (SlotsPerDay + 7) / 8
)

var (
	ErrInvalidRange      = errors.New("invalid slot range")
	ErrInvalidBitsLength = errors.New("availability bits have the wrong length")
)

// Bits is the packed open/closed flag per slot of one day. Slot i lives in
// byte i/8, most significant bit first. A set bit means open.
type Bits []byte

func NewBits() Bits {
	return make(Bits, BytesPerDay)
}

func (b Bits) Validate() error {
	if len(b) != BytesPerDay {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidBitsLength, len(b), BytesPerDay)
	}
	return nil
}

func (b Bits) Clone() Bits {
	out := make(Bits, len(b))
	copy(out, b)
	return out
}

func (b Bits) Equal(other Bits) bool {
	if len(b) != len(other) {
		return false
	}
	for i := range b {
		if b[i] != other[i] {
			return false
		}
	}
	return true
}

func (b Bits) IsOpen(slot int) bool {
	if slot < 0 || slot >= SlotsPerDay {
		return false
	}
	return b[slot/8]&(0x80>>(slot%8)) != 0
}

// SetRange opens every slot in [start, end).
func (b Bits) SetRange(start, end int) error {
	if err := ValidateRange(start, end); err != nil {
		return err
	}
	for i := start; i < end; i++ {
		b[i/8] |= 0x80 >> (i % 8)
	}
	return nil
}

// ClearRange closes every slot in [start, end).
func (b Bits) ClearRange(start, end int) error {
	if err := ValidateRange(start, end); err != nil {
		return err
	}
	for i := start; i < end; i++ {
		b[i/8] &^= 0x80 >> (i % 8)
	}
	return nil
}

func (b Bits) AllOpen(start, end int) bool {
	if ValidateRange(start, end) != nil {
		return false
	}
	for i := start; i < end; i++ {
		if !b.IsOpen(i) {
			return false
		}
	}
	return true
}

// FindRun returns the first slot of the earliest run of length open slots
// lying inside [from, to). It stops at the first match.
func (b Bits) FindRun(from, to, length int) (int, bool) {
	if from < 0 {
		from = 0
	}
	if to > SlotsPerDay {
		to = SlotsPerDay
	}
	if length <= 0 || to-from < length {
		return 0, false
	}

	run := 0
	for i := from; i < to; i++ {
		if !b.IsOpen(i) {
			run = 0
			continue
		}
		run++
		if run == length {
			return i - length + 1, true
		}
	}
	return 0, false
}

type SlotRange struct {
	Start int `json:"start_slot"`
	End   int `json:"end_slot"`
}

// OpenRanges lists maximal runs of open slots in ascending order.
func (b Bits) OpenRanges() []SlotRange {
	var ranges []SlotRange
	start := -1
	for i := 0; i <= SlotsPerDay; i++ {
		open := i < SlotsPerDay && b.IsOpen(i)
		switch {
		case open && start < 0:
			start = i
		case !open && start >= 0:
			ranges = append(ranges, SlotRange{Start: start, End: i})
			start = -1
		}
	}
	return ranges
}

func (b Bits) Value() (driver.Value, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return []byte(b), nil
}

func (b *Bits) Scan(src interface{}) error {
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("availability bits: unsupported scan type %T", src)
	}
	out := make(Bits, len(raw))
	copy(out, raw)
	if err := out.Validate(); err != nil {
		return err
	}
	*b = out
	return nil
}

func ValidateRange(start, end int) error {
	if start < 0 || end > SlotsPerDay || start >= end {
		return fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, start, end)
	}
	return nil
}

// SlotIndex maps a wall-clock time to the slot containing it.
func SlotIndex(hour, minute int) int {
	return hour*2 + minute/SlotMinutes
}

// SlotFloor is the slot containing minuteOfDay.
func SlotFloor(minuteOfDay int) int {
	return minuteOfDay / SlotMinutes
}

// SlotCeil is the first slot boundary at or after minuteOfDay.
func SlotCeil(minuteOfDay int) int {
	return (minuteOfDay + SlotMinutes - 1) / SlotMinutes
}

// DurationSlots is the number of whole slots needed to hold minutes. It
// rounds up so a booking is never shorter than requested.
func DurationSlots(minutes int) int {
	if minutes <= 0 {
		return 0
	}
	return (minutes + SlotMinutes - 1) / SlotMinutes
}
