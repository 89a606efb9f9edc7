// Package auth decides whether stored credentials still log in, and runs
// the interactive QR login that produces new ones.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/elsanchez/smart-publish/internal/automation"
	"github.com/elsanchez/smart-publish/internal/credentials"
	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/repository"
)

// Verdict is the outcome of a validation.
type Verdict string

const (
	VerdictValid   Verdict = "valid"
	VerdictInvalid Verdict = "invalid"
	// VerdictError means the check itself failed; the account is untouched.
	VerdictError Verdict = "error"
)

// Result carries the verdict and a human-readable reason.
type Result struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason,omitempty"`
}

// CredentialLoader reads credential blobs under shared access.
type CredentialLoader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// Validator checks an account's credential: a structural check first,
// then a live probe through the platform adapter.
type Validator struct {
	accounts     repository.AccountRepository
	creds        CredentialLoader
	automations  *automation.Registry
	probeTimeout time.Duration
	now          func() time.Time
	log          *log.Logger
}

func NewValidator(accounts repository.AccountRepository, creds CredentialLoader, automations *automation.Registry, probeTimeout time.Duration, logger *log.Logger) *Validator {
	return &Validator{
		accounts:     accounts,
		creds:        creds,
		automations:  automations,
		probeTimeout: probeTimeout,
		now:          time.Now,
		log:          logger,
	}
}

// Validate classifies the account's credential and records Valid or
// Invalid on the account. Error verdicts never mutate the account.
func (v *Validator) Validate(ctx context.Context, acc *domain.Account) Result {
	blob, err := v.creds.Load(ctx, acc.CredentialRef)
	if err != nil {
		if errors.Is(err, credentials.ErrNoCredential) {
			return v.invalid(ctx, acc, "no credential stored")
		}
		return Result{Verdict: VerdictError, Reason: fmt.Sprintf("load credential: %v", err)}
	}

	if err := credentials.CheckStructure(acc.Platform, blob, v.now()); err != nil {
		return v.invalid(ctx, acc, err.Error())
	}

	adapter, err := v.automations.Get(acc.Platform)
	if err != nil {
		return Result{Verdict: VerdictError, Reason: err.Error()}
	}

	probeCtx := ctx
	if v.probeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, v.probeTimeout)
		defer cancel()
	}

	ok, err := adapter.ProbeAuth(probeCtx, blob)
	if err != nil {
		v.log.Warn("auth probe failed", "account", acc.ID, "err", err)
		return Result{Verdict: VerdictError, Reason: fmt.Sprintf("probe: %v", err)}
	}
	if !ok {
		return v.invalid(ctx, acc, "platform rejected session")
	}

	if err := v.accounts.MarkVerified(ctx, acc.ID, v.now()); err != nil {
		return Result{Verdict: VerdictError, Reason: fmt.Sprintf("record verification: %v", err)}
	}
	v.log.Info("credential valid", "account", acc.ID, "platform", acc.Platform)
	return Result{Verdict: VerdictValid}
}

func (v *Validator) invalid(ctx context.Context, acc *domain.Account, reason string) Result {
	if err := v.accounts.UpdateStatus(ctx, acc.ID, domain.AccountInvalid); err != nil {
		return Result{Verdict: VerdictError, Reason: fmt.Sprintf("record invalid credential: %v", err)}
	}
	v.log.Info("credential invalid", "account", acc.ID, "platform", acc.Platform, "reason", reason)
	return Result{Verdict: VerdictInvalid, Reason: reason}
}
