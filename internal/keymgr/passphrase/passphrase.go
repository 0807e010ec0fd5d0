// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

// Package passphrase is the passphrase provider (C3): it expands a
// shell command template (substituting the literal token %p for a
// fixed prompt string), runs the resulting command, and returns its
// raw stdout bytes as the operator-supplied passphrase. Length
// validation against the configured minimum/maximum is the caller's
// responsibility; this package never strips trailing bytes. The bytes
// go straight into key derivation, so a trailing newline is part of the
// passphrase: "echo secret" and "printf secret" derive different KEKs.
package passphrase

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/clusterkm/ckm/internal/kmerrors"
	"github.com/clusterkm/ckm/internal/retry"
)

// Prompt is the fixed string substituted for the literal token %p in a
// passphrase command template.
const Prompt = "Enter database encryption pass phrase:"

// ExpandTemplate substitutes %p with Prompt and %% with a literal %;
// any other %X sequence emits X unchanged, matching spec.md §4.3.
func ExpandTemplate(template string) string {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '%' || i == len(template)-1 {
			b.WriteByte(c)
			continue
		}
		next := template[i+1]
		switch next {
		case 'p':
			b.WriteString(Prompt)
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte(next)
		}
		i++
	}
	return b.String()
}

// Provider runs a passphrase command template and returns its stdout.
type Provider struct {
	Template string
	// MaxBytes caps how many bytes are read from the command's stdout.
	MaxBytes int
	// Retrier, when non-nil, retries a failure to spawn the command
	// (but never a non-zero exit or a read failure, which may already
	// have side effects).
	Retrier retry.Retrier
}

// NewProvider constructs a Provider for the given command template.
func NewProvider(template string, maxBytes int) *Provider {
	return &Provider{Template: template, MaxBytes: maxBytes}
}

// Run expands the provider's template, spawns it as a shell command,
// and returns the bytes read from its stdout, up to MaxBytes. The
// returned length is the number of bytes read; callers validate it
// against PassphraseMin/PassphraseMax separately.
func (p *Provider) Run(ctx context.Context) ([]byte, error) {
	const fName = "Run"

	if p.Retrier == nil {
		return p.runOnce(ctx)
	}

	var out []byte
	var sawPermanent bool
	err := p.Retrier.RetryWithBackoff(ctx, func() error {
		o, runErr := p.runOnce(ctx)
		if runErr == nil {
			out = o
			return nil
		}
		if kmerrors.Is(runErr, kmerrors.ErrCommandSpawn) {
			return runErr
		}
		// A non-zero exit or a read failure may already have side
		// effects: stop retrying and surface it as-is. backoff.Retry
		// unwraps the PermanentError itself, returning runErr below.
		sawPermanent = true
		return backoff.Permanent(runErr)
	})
	switch {
	case err == nil:
		return out, nil
	case sawPermanent:
		return nil, err
	default:
		return nil, kmerrors.WrapErr(kmerrors.ErrCommandSpawn, fName,
			"exhausted retries spawning passphrase command", err)
	}
}

func (p *Provider) runOnce(ctx context.Context) ([]byte, error) {
	const fName = "runOnce"

	expanded := ExpandTemplate(p.Template)

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", expanded)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, kmerrors.WrapErr(kmerrors.ErrCommandSpawn, fName,
			"failed to attach stdout pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, kmerrors.WrapErr(kmerrors.ErrCommandSpawn, fName,
			"failed to start passphrase command", err)
	}

	// A command that writes more than MaxBytes is silently truncated
	// rather than failed, matching spec.md §4.3's read-size contract.
	var buf bytes.Buffer
	_, readErr := io.Copy(&buf, io.LimitReader(stdout, int64(p.MaxBytes)))

	waitErr := cmd.Wait()

	if readErr != nil {
		return nil, kmerrors.WrapErr(kmerrors.ErrCommandRead, fName,
			"failed to read passphrase command output", readErr)
	}
	if waitErr != nil {
		return nil, kmerrors.WrapErr(kmerrors.ErrCommandExit, fName,
			"passphrase command exited non-zero", waitErr)
	}

	return buf.Bytes(), nil
}

// CheckLength validates a passphrase's length against [min, max],
// inclusive, returning kmerrors.ErrPassphraseTooShort or
// kmerrors.ErrPassphraseTooLong as appropriate.
func CheckLength(passphrase []byte, min, max int) error {
	const fName = "CheckLength"
	switch {
	case len(passphrase) < min:
		return kmerrors.Wrap(kmerrors.ErrPassphraseTooShort, fName,
			"passphrase shorter than configured minimum")
	case len(passphrase) > max:
		return kmerrors.Wrap(kmerrors.ErrPassphraseTooLong, fName,
			"passphrase longer than configured maximum")
	default:
		return nil
	}
}
