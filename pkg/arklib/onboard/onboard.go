// Package onboard implements the two-party musig2 cosigning of a user's
// onboarding output. The user and the service share a single taproot output
// keyed to their aggregate key; onboarding requires both halves of the
// signature over the onboard commitment.
package onboard

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/wire"
)

// UserPart is the user's contribution to the shared onboarding signature:
// the onboard utxo, the user key, a fresh public nonce and the commitment
// digest both parties sign.
type UserPart struct {
	Utxo       wire.OutPoint
	UserPubKey *btcec.PublicKey
	PubNonce   [musig2.PubNonceSize]byte
	Commitment [32]byte
}

// AspPart is the service's half: its public nonce and partial signature
// over the same commitment.
type AspPart struct {
	AspPubKey  *btcec.PublicKey
	PubNonce   [musig2.PubNonceSize]byte
	PartialSig *musig2.PartialSignature
}

// NewAspPart cosigns the user's onboarding commitment with the service key.
// Stateless: a fresh nonce pair is drawn on every call, so calling twice
// with the same user part yields different, independently valid parts.
func NewAspPart(user UserPart, signerKey *btcec.PrivateKey) (*AspPart, error) {
	if user.UserPubKey == nil {
		return nil, fmt.Errorf("missing user public key")
	}

	signers := []*btcec.PublicKey{user.UserPubKey, signerKey.PubKey()}
	ctx, err := musig2.NewContext(
		signerKey, true, musig2.WithKnownSigners(signers), musig2.WithBip86TweakCtx(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create musig2 context: %w", err)
	}

	session, err := ctx.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create musig2 session: %w", err)
	}

	if _, err := session.RegisterPubNonce(user.PubNonce); err != nil {
		return nil, fmt.Errorf("failed to register user nonce: %w", err)
	}

	partialSig, err := session.Sign(user.Commitment)
	if err != nil {
		return nil, fmt.Errorf("failed to sign onboard commitment: %w", err)
	}

	return &AspPart{
		AspPubKey:  signerKey.PubKey(),
		PubNonce:   session.PublicNonce(),
		PartialSig: partialSig,
	}, nil
}

// UserSession is the client-side counterpart of NewAspPart. It owns the
// user's secret nonce, so it must be used at most once.
type UserSession struct {
	userPubKey *btcec.PublicKey
	utxo       wire.OutPoint
	commitment [32]byte
	session    *musig2.Session
	ctx        *musig2.Context
}

// NewUserSession draws the user nonce and prepares the user part to send to
// the service.
func NewUserSession(
	userKey *btcec.PrivateKey, aspPubKey *btcec.PublicKey,
	utxo wire.OutPoint, commitment [32]byte,
) (*UserSession, error) {
	signers := []*btcec.PublicKey{userKey.PubKey(), aspPubKey}
	ctx, err := musig2.NewContext(
		userKey, true, musig2.WithKnownSigners(signers), musig2.WithBip86TweakCtx(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create musig2 context: %w", err)
	}

	session, err := ctx.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create musig2 session: %w", err)
	}

	return &UserSession{
		userPubKey: userKey.PubKey(),
		utxo:       utxo,
		commitment: commitment,
		session:    session,
		ctx:        ctx,
	}, nil
}

// UserPart returns the part to submit for cosigning.
func (s *UserSession) UserPart() UserPart {
	return UserPart{
		Utxo:       s.utxo,
		UserPubKey: s.userPubKey,
		PubNonce:   s.session.PublicNonce(),
		Commitment: s.commitment,
	}
}

// CombinedKey returns the aggregate taproot key of the onboarding output.
func (s *UserSession) CombinedKey() (*btcec.PublicKey, error) {
	return s.ctx.CombinedKey()
}

// Combine folds the service's part into the session and returns the final
// signature over the commitment.
func (s *UserSession) Combine(asp *AspPart) (*schnorr.Signature, error) {
	if asp == nil || asp.PartialSig == nil {
		return nil, fmt.Errorf("missing asp partial signature")
	}

	haveAll, err := s.session.RegisterPubNonce(asp.PubNonce)
	if err != nil {
		return nil, fmt.Errorf("failed to register asp nonce: %w", err)
	}
	if !haveAll {
		return nil, fmt.Errorf("nonce set incomplete after asp nonce")
	}

	if _, err := s.session.Sign(s.commitment); err != nil {
		return nil, fmt.Errorf("failed to sign onboard commitment: %w", err)
	}

	done, err := s.session.CombineSig(asp.PartialSig)
	if err != nil {
		return nil, fmt.Errorf("failed to combine asp signature: %w", err)
	}
	if !done {
		return nil, fmt.Errorf("signature set incomplete after asp signature")
	}

	return s.session.FinalSig(), nil
}
