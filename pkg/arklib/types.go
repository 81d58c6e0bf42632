package arklib

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

const (
	LocktimeTypeSecond LocktimeType = iota
	LocktimeTypeBlock

	// 512-second granularity of BIP68 time-based locks.
	SecondsPerInterval = 512

	maxBlockValue  = uint32(0xffff)
	maxSecondValue = uint32(0xffff) * SecondsPerInterval
)

type LocktimeType int

// RelativeLocktime is a BIP68 relative timelock, expressed either in blocks
// or in seconds (rounded down to 512s intervals on encoding).
type RelativeLocktime struct {
	Type  LocktimeType
	Value uint32
}

func (l RelativeLocktime) Seconds() int64 {
	if l.Type == LocktimeTypeBlock {
		return 0
	}
	return int64(l.Value)
}

func (l RelativeLocktime) LessThan(other RelativeLocktime) bool {
	return l.Compare(other) < 0
}

func (l RelativeLocktime) Compare(other RelativeLocktime) int {
	val := l.Value
	otherVal := other.Value
	return int(int64(val) - int64(otherVal))
}

// BIP68Sequence returns the nSequence encoding of the given relative locktime.
func BIP68Sequence(locktime RelativeLocktime) (uint32, error) {
	value := locktime.Value
	isSeconds := locktime.Type == LocktimeTypeSecond
	if isSeconds {
		if value > maxSecondValue {
			return 0, fmt.Errorf("seconds timelock out of range: %d > %d", value, maxSecondValue)
		}
		value /= SecondsPerInterval
	} else if value > maxBlockValue {
		return 0, fmt.Errorf("blocks timelock out of range: %d > %d", value, maxBlockValue)
	}

	sequence := value
	if isSeconds {
		sequence |= wire.SequenceLockTimeIsSeconds
	}
	return sequence, nil
}

// BIP68DecodeSequence decodes a nSequence value back into a relative locktime.
func BIP68DecodeSequence(sequence uint32) (*RelativeLocktime, error) {
	if sequence&wire.SequenceLockTimeDisabled != 0 {
		return nil, fmt.Errorf("sequence %d has relative timelock disabled", sequence)
	}

	value := sequence & wire.SequenceLockTimeMask
	if sequence&wire.SequenceLockTimeIsSeconds != 0 {
		return &RelativeLocktime{
			Type: LocktimeTypeSecond, Value: value * SecondsPerInterval,
		}, nil
	}
	return &RelativeLocktime{Type: LocktimeTypeBlock, Value: value}, nil
}

// BIP68DecodeSequenceFromBytes decodes a minimally-encoded little-endian
// sequence, the on-script form produced by script number pushes.
func BIP68DecodeSequenceFromBytes(sequence []byte) (*RelativeLocktime, error) {
	if len(sequence) == 0 || len(sequence) > 4 {
		return nil, fmt.Errorf("invalid sequence length: %d", len(sequence))
	}

	var asNumber uint32
	for i := len(sequence) - 1; i >= 0; i-- {
		asNumber = asNumber<<8 | uint32(sequence[i])
	}
	return BIP68DecodeSequence(asNumber)
}
