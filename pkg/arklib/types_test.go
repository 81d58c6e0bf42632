package arklib_test

import (
	"testing"

	arklib "github.com/arkade-os/aspd/pkg/arklib"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestBIP68Sequence(t *testing.T) {
	t.Run("blocks", func(t *testing.T) {
		locktime := arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: 144}

		sequence, err := arklib.BIP68Sequence(locktime)
		require.NoError(t, err)
		require.Equal(t, uint32(144), sequence)

		decoded, err := arklib.BIP68DecodeSequence(sequence)
		require.NoError(t, err)
		require.Equal(t, locktime, *decoded)
	})

	t.Run("seconds", func(t *testing.T) {
		locktime := arklib.RelativeLocktime{
			Type: arklib.LocktimeTypeSecond, Value: 512 * 6,
		}

		sequence, err := arklib.BIP68Sequence(locktime)
		require.NoError(t, err)
		require.NotZero(t, sequence&wire.SequenceLockTimeIsSeconds)

		decoded, err := arklib.BIP68DecodeSequence(sequence)
		require.NoError(t, err)
		require.Equal(t, locktime, *decoded)
	})

	t.Run("seconds are rounded down to 512s intervals", func(t *testing.T) {
		sequence, err := arklib.BIP68Sequence(arklib.RelativeLocktime{
			Type: arklib.LocktimeTypeSecond, Value: 1000,
		})
		require.NoError(t, err)

		decoded, err := arklib.BIP68DecodeSequence(sequence)
		require.NoError(t, err)
		require.Equal(t, uint32(512), decoded.Value)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := arklib.BIP68Sequence(arklib.RelativeLocktime{
			Type: arklib.LocktimeTypeBlock, Value: 0x10000,
		})
		require.Error(t, err)
	})

	t.Run("disabled sequence", func(t *testing.T) {
		_, err := arklib.BIP68DecodeSequence(wire.SequenceLockTimeDisabled | 42)
		require.Error(t, err)
	})
}

func TestBIP68DecodeSequenceFromBytes(t *testing.T) {
	// 144 as a little-endian script number
	decoded, err := arklib.BIP68DecodeSequenceFromBytes([]byte{0x90, 0x00})
	require.NoError(t, err)
	require.Equal(t, arklib.LocktimeTypeBlock, decoded.Type)
	require.Equal(t, uint32(144), decoded.Value)

	_, err = arklib.BIP68DecodeSequenceFromBytes(nil)
	require.Error(t, err)

	_, err = arklib.BIP68DecodeSequenceFromBytes([]byte{1, 2, 3, 4, 5})
	require.Error(t, err)
}
