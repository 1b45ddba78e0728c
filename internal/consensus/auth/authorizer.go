// Package auth binds signed actions to their signer and to monotonic counters.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/holiman/uint256"

	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/infra/storage"
)

var (
	ErrUnauthorized                 = errors.New("unauthorized")
	ErrSenderIsNotSigner            = errors.New("sender is not signer")
	ErrSenderIsNotOwner             = errors.New("sender is not owner")
	ErrUnauthorizedProxyTransaction = errors.New("unauthorized proxy transaction")
	ErrUnauthorizedFee              = errors.New("unauthorized fee payment")
	ErrInvalidIngressCounter        = errors.New("invalid ingress counter")
)

const (
	nonceScope        = "nonce"
	paymentNonceScope = "payment_nonce"
	ingressScope      = "ingress"
)

// UnauthorizedError is returned when the signature does not match the recomputed payload.
type UnauthorizedError struct {
	Action string
}

func (e *UnauthorizedError) Error() string {
	return "unauthorized " + e.Action
}

func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

// Direct is an action submitted and paid for by its signer.
type Direct struct {
	Action    string
	Sender    domain.AccountID
	Signer    domain.AccountID
	Fields    []any
	Signature []byte
}

// Proof is the signer's authorization for a relayer to submit on its behalf.
type Proof struct {
	Signer    domain.AccountID
	Relayer   domain.AccountID
	Signature []byte
}

// Payment is the fee the signer authorizes the relayer to collect.
type Payment struct {
	Amount    *uint256.Int
	Recipient domain.AccountID
	Signature []byte
}

// Relayed is an action submitted by a relayer.
type Relayed struct {
	Proof   Proof
	Relayer domain.AccountID
	Action  string
	Fields  []any
	Payment Payment
}

// Authorizer verifies signed actions against stored nonces.
// Checks and increments are atomic with respect to each other.
type Authorizer struct {
	mu       sync.Mutex
	counters storage.CounterRepository
	log      *slog.Logger
}

func NewAuthorizer(counters storage.CounterRepository) *Authorizer {
	return &Authorizer{
		counters: counters,
		log:      slog.Default().With("component", "auth"),
	}
}

// Nonce returns the current nonce of signer.
func (a *Authorizer) Nonce(ctx context.Context, signer domain.AccountID) (uint64, error) {
	return a.counters.Get(ctx, nonceScope, signer.Hex())
}

// PaymentNonce returns the current fee payment nonce of signer.
func (a *Authorizer) PaymentNonce(ctx context.Context, signer domain.AccountID) (uint64, error) {
	return a.counters.Get(ctx, paymentNonceScope, signer.Hex())
}

// ActionPayload is the message a signer signs for action submitted through relayer.
func ActionPayload(action string, relayer domain.AccountID, fields []any, nonce uint64) ([]byte, error) {
	all := make([]any, 0, len(fields)+2)
	all = append(all, relayer)
	all = append(all, fields...)
	all = append(all, nonce)
	return Payload(action, all...)
}

// PaymentPayload is the message a signer signs to authorize a relayer fee.
func PaymentPayload(signer, relayer, recipient domain.AccountID, amount *uint256.Int, nonce uint64) ([]byte, error) {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return Payload(PaymentAuthContext, signer, relayer, recipient, amount, nonce)
}

// VerifyDirect checks a self submitted action and increments the signer's nonce.
func (a *Authorizer) VerifyDirect(ctx context.Context, d Direct) error {
	if d.Sender != d.Signer {
		return ErrSenderIsNotSigner
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	nonce, err := a.Nonce(ctx, d.Signer)
	if err != nil {
		return fmt.Errorf("load nonce: %w", err)
	}
	payload, err := ActionPayload(d.Action, d.Sender, d.Fields, nonce)
	if err != nil {
		return err
	}
	if !Verify(d.Signer, payload, d.Signature) {
		return &UnauthorizedError{Action: d.Action}
	}
	if err := a.counters.Set(ctx, nonceScope, d.Signer.Hex(), nonce+1); err != nil {
		return fmt.Errorf("store nonce: %w", err)
	}
	a.log.Debug("direct action authorized", "action", d.Action, "signer", d.Signer.Hex(), "nonce", nonce)
	return nil
}

// VerifyRelayed checks the signer's proof and fee authorization. Both nonces
// advance only when both checks pass.
func (a *Authorizer) VerifyRelayed(ctx context.Context, r Relayed) error {
	if r.Relayer != r.Proof.Relayer {
		return ErrUnauthorizedProxyTransaction
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	signer := r.Proof.Signer
	nonce, err := a.Nonce(ctx, signer)
	if err != nil {
		return fmt.Errorf("load nonce: %w", err)
	}
	payload, err := ActionPayload(r.Action, r.Proof.Relayer, r.Fields, nonce)
	if err != nil {
		return err
	}
	if !Verify(signer, payload, r.Proof.Signature) {
		return &UnauthorizedError{Action: r.Action}
	}

	paymentNonce, err := a.PaymentNonce(ctx, signer)
	if err != nil {
		return fmt.Errorf("load payment nonce: %w", err)
	}
	fee, err := PaymentPayload(signer, r.Proof.Relayer, r.Payment.Recipient, r.Payment.Amount, paymentNonce)
	if err != nil {
		return err
	}
	if !Verify(signer, fee, r.Payment.Signature) {
		return ErrUnauthorizedFee
	}

	if err := a.counters.Set(ctx, nonceScope, signer.Hex(), nonce+1); err != nil {
		return fmt.Errorf("store nonce: %w", err)
	}
	if err := a.counters.Set(ctx, paymentNonceScope, signer.Hex(), paymentNonce+1); err != nil {
		return fmt.Errorf("store payment nonce: %w", err)
	}
	a.log.Debug("relayed action authorized",
		"action", r.Action,
		"signer", signer.Hex(),
		"relayer", r.Relayer.Hex(),
		"nonce", nonce,
	)
	return nil
}

// VerifyOwner checks that sender owns the resource.
func VerifyOwner(owner, sender domain.AccountID) error {
	if owner != sender {
		return ErrSenderIsNotOwner
	}
	return nil
}

// VerifyVote checks an unsigned validator transaction. The session's action id
// provides replay protection so no nonce is involved.
func VerifyVote(action string, voter domain.AccountID, sig []byte, fields ...any) error {
	payload, err := Payload(action, fields...)
	if err != nil {
		return err
	}
	if !Verify(voter, payload, sig) {
		return &UnauthorizedError{Action: action}
	}
	return nil
}

// CheckIngress verifies that counter follows the last accepted counter of subject.
func (a *Authorizer) CheckIngress(ctx context.Context, subject string, counter uint64) error {
	last, err := a.counters.Get(ctx, ingressScope, subject)
	if err != nil {
		return fmt.Errorf("load ingress counter: %w", err)
	}
	if counter != last+1 {
		return fmt.Errorf("%w: got %d, expected %d", ErrInvalidIngressCounter, counter, last+1)
	}
	return nil
}

// AcceptIngress checks counter and records it as the last accepted one.
func (a *Authorizer) AcceptIngress(ctx context.Context, subject string, counter uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.CheckIngress(ctx, subject, counter); err != nil {
		return err
	}
	return a.counters.Set(ctx, ingressScope, subject, counter)
}
