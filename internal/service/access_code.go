package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

const (
	accessCodeLength   = 10
	accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts    = 100
	// Largest multiple of the alphabet size below 256; bytes at or above it are
	// discarded so every symbol is equally likely.
	accessCodeByteLimit = 252
)

type accessCodeStore interface {
	AccessCodeExists(ctx context.Context, code string) (bool, error)
}

// AccessCodeGenerator issues unique parent access codes.
type AccessCodeGenerator struct {
	store       accessCodeStore
	random      io.Reader
	maxAttempts int
}

// NewAccessCodeGenerator constructs a generator backed by crypto/rand.
func NewAccessCodeGenerator(store accessCodeStore) *AccessCodeGenerator {
	return &AccessCodeGenerator{store: store, random: rand.Reader, maxAttempts: maxCodeAttempts}
}

// Generate returns a code that is not yet assigned to any student. Store
// errors are returned as-is and never retried.
func (g *AccessCodeGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		code, err := g.randomCode()
		if err != nil {
			return "", appErrors.Internal(err, "failed to generate access code")
		}
		exists, err := g.store.AccessCodeExists(ctx, code)
		if err != nil {
			return "", appErrors.Internal(err, "failed to check access code")
		}
		if !exists {
			return code, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrAccessCodeExhausted, fmt.Sprintf("no unique access code after %d attempts", g.maxAttempts))
}

func (g *AccessCodeGenerator) randomCode() (string, error) {
	code := make([]byte, 0, accessCodeLength)
	buf := make([]byte, accessCodeLength*2)
	for len(code) < accessCodeLength {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= accessCodeByteLimit {
				continue
			}
			code = append(code, accessCodeAlphabet[int(b)%len(accessCodeAlphabet)])
			if len(code) == accessCodeLength {
				break
			}
		}
	}
	return string(code), nil
}

// NormalizeAccessCode trims and upper-cases user input.
func NormalizeAccessCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidAccessCodeFormat reports whether code is exactly ten characters of [A-Z0-9]
// after normalisation.
func ValidAccessCodeFormat(code string) bool {
	code = NormalizeAccessCode(code)
	if len(code) != accessCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
