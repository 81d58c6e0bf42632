package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/arkade-os/aspd/internal/core/domain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func testScheduler(t *testing.T, finalize RoundFinalizer) *roundScheduler {
	t.Helper()
	signerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	repoManager := newTestRepos(t)
	sweeper := newSweeper(signerKey, repoManager, newFakeWallet(t, 1), 1.0)

	scheduler := newRoundScheduler(
		time.Second, 50*time.Millisecond, 50*time.Millisecond, 2,
		sweeper, repoManager, finalize, newEventBroker(), newInputQueue(),
	)
	t.Cleanup(func() {
		scheduler.inputs.Close()
		scheduler.events.Close()
	})
	return scheduler
}

func TestCollectIntents(t *testing.T) {
	scheduler := testScheduler(t, nil)

	scheduler.inputs.Push(RegisterIntent{Proof: []byte{1}})
	scheduler.inputs.Push(SubmitSignatures{RoundId: "stale"})
	scheduler.inputs.Push(RegisterIntent{Proof: []byte{2}})

	intents := scheduler.collectIntents(context.Background())
	require.Len(t, intents, 2)
	require.Equal(t, []byte{1}, intents[0].Proof)
	require.Equal(t, []byte{2}, intents[1].Proof)
}

func TestCollectSignatures(t *testing.T) {
	scheduler := testScheduler(t, nil)

	scheduler.inputs.Push(SubmitSignatures{RoundId: "other"})
	scheduler.inputs.Push(SubmitSignatures{RoundId: "round-1", Signatures: [][]byte{{1}}})
	scheduler.inputs.Push(SubmitSignatures{RoundId: "round-1", Signatures: [][]byte{{2}}})
	scheduler.inputs.Push(SubmitSignatures{RoundId: "round-1", Signatures: [][]byte{{3}}})

	// the nonce budget caps collection at 2 submissions
	signatures := scheduler.collectSignatures(context.Background(), "round-1")
	require.Len(t, signatures, 2)
	require.Equal(t, [][]byte{{1}}, signatures[0].Signatures)
	require.Equal(t, [][]byte{{2}}, signatures[1].Signatures)
}

func TestRunRoundEvents(t *testing.T) {
	t.Run("empty round publishes start only", func(t *testing.T) {
		scheduler := testScheduler(t, nil)
		events, cancel := scheduler.events.Subscribe()
		defer cancel()

		scheduler.runRound()

		event := <-events
		_, ok := event.(RoundStarted)
		require.True(t, ok)
		require.Empty(t, events)
	})

	t.Run("failing finalizer publishes round failed", func(t *testing.T) {
		failure := fmt.Errorf("tree construction failed")
		scheduler := testScheduler(t, func(
			context.Context, string, []RegisterIntent, []SubmitSignatures,
		) (*domain.Round, error) {
			return nil, failure
		})
		events, cancel := scheduler.events.Subscribe()
		defer cancel()

		scheduler.inputs.Push(RegisterIntent{Proof: []byte{1}})
		scheduler.runRound()

		started := <-events
		require.IsType(t, RoundStarted{}, started)
		signing := <-events
		require.IsType(t, RoundSigningStarted{}, signing)
		require.Equal(t, started.RoundId(), signing.RoundId())

		failed := <-events
		require.IsType(t, RoundFailed{}, failed)
		require.ErrorIs(t, failed.(RoundFailed).Err, failure)
	})
}
