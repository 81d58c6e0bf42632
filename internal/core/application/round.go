package application

import (
	"context"
	"fmt"
	"time"

	"github.com/arkade-os/aspd/internal/core/domain"
	"github.com/arkade-os/aspd/internal/core/ports"
	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RoundFinalizer turns the intents and cosigner signatures collected during
// a round into the finalized round record. Tree construction and batching
// live behind this boundary; the scheduler only drives the phases around it.
type RoundFinalizer func(
	ctx context.Context, roundId string,
	intents []RegisterIntent, signatures []SubmitSignatures,
) (*domain.Round, error)

// roundScheduler runs the periodic round loop: open a round, collect
// intents for the submission window, collect signatures for the signing
// window, finalize, then reclaim any expired rounds. One round failing
// never stops the loop.
type roundScheduler struct {
	cadence     time.Duration
	submitDur   time.Duration
	signDur     time.Duration
	nonceBudget uint64

	sweeper     *sweeper
	repoManager ports.RepoManager
	finalize    RoundFinalizer
	events      *eventBroker
	inputs      *inputQueue

	scheduler *gocron.Scheduler
}

func newRoundScheduler(
	cadence, submitDur, signDur time.Duration, nonceBudget uint64,
	sweeper *sweeper, repoManager ports.RepoManager, finalize RoundFinalizer,
	events *eventBroker, inputs *inputQueue,
) *roundScheduler {
	return &roundScheduler{
		cadence:     cadence,
		submitDur:   submitDur,
		signDur:     signDur,
		nonceBudget: nonceBudget,
		sweeper:     sweeper,
		repoManager: repoManager,
		finalize:    finalize,
		events:      events,
		inputs:      inputs,
		scheduler:   gocron.NewScheduler(time.UTC),
	}
}

func (m *roundScheduler) start() error {
	job, err := m.scheduler.Every(m.cadence).Do(m.runRound)
	if err != nil {
		return fmt.Errorf("failed to schedule round job: %w", err)
	}
	job.SingletonMode()
	m.scheduler.StartAsync()
	return nil
}

func (m *roundScheduler) stop() {
	m.scheduler.Stop()
	m.inputs.Close()
	m.events.Close()
}

func (m *roundScheduler) runRound() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cadence)
	defer cancel()

	roundId := uuid.NewString()
	log.Debugf("starting round %s", roundId)

	m.events.Publish(RoundStarted{
		Id: roundId, SubmissionEndsAt: time.Now().Add(m.submitDur),
	})

	intents := m.collectIntents(ctx)
	if len(intents) == 0 {
		log.Debugf("round %s: no intents, skipping", roundId)
	} else if m.finalize == nil {
		err := fmt.Errorf("no round finalizer configured")
		log.WithError(err).Warnf("round %s failed", roundId)
		m.events.Publish(RoundFailed{Id: roundId, Err: err})
	} else {
		m.events.Publish(RoundSigningStarted{Id: roundId})
		signatures := m.collectSignatures(ctx, roundId)

		round, err := m.finalize(ctx, roundId, intents, signatures)
		if err != nil {
			log.WithError(err).Warnf("round %s failed", roundId)
			m.events.Publish(RoundFailed{Id: roundId, Err: err})
		} else if err := m.repoManager.Rounds().AddRound(ctx, round); err != nil {
			log.WithError(err).Warnf("failed to persist round %s", roundId)
			m.events.Publish(RoundFailed{Id: roundId, Err: err})
		} else {
			m.events.Publish(RoundFinalized{Id: roundId, Txid: round.Txid})
			log.Infof("finalized round %s (%s)", roundId, round.Txid)
		}
	}

	if err := m.sweeper.reclaim(ctx); err != nil {
		log.WithError(err).Warn("failed to reclaim expired rounds")
	}
}

// collectIntents drains intent registrations until the submission window
// closes. Other inputs arriving during this phase are dropped.
func (m *roundScheduler) collectIntents(ctx context.Context) []RegisterIntent {
	deadline := time.NewTimer(m.submitDur)
	defer deadline.Stop()

	var intents []RegisterIntent
	for {
		select {
		case input, ok := <-m.inputs.C():
			if !ok {
				return intents
			}
			if intent, isIntent := input.(RegisterIntent); isIntent {
				intents = append(intents, intent)
			} else {
				log.Debugf("dropping out-of-phase round input %T", input)
			}
		case <-deadline.C:
			return intents
		case <-ctx.Done():
			return intents
		}
	}
}

// collectSignatures drains signature submissions for the given round until
// the signing window closes or the nonce budget is exhausted.
func (m *roundScheduler) collectSignatures(
	ctx context.Context, roundId string,
) []SubmitSignatures {
	deadline := time.NewTimer(m.signDur)
	defer deadline.Stop()

	var signatures []SubmitSignatures
	for uint64(len(signatures)) < m.nonceBudget {
		select {
		case input, ok := <-m.inputs.C():
			if !ok {
				return signatures
			}
			sigs, isSigs := input.(SubmitSignatures)
			if !isSigs || sigs.RoundId != roundId {
				log.Debugf("dropping out-of-phase round input %T", input)
				continue
			}
			signatures = append(signatures, sigs)
		case <-deadline.C:
			return signatures
		case <-ctx.Done():
			return signatures
		}
	}
	return signatures
}
