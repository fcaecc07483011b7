package billing

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	InvoiceCodePrefix = "INV"
	ReceiptCodePrefix = "RCPT"

	// DefaultMaxAttempts bounds the collision retry loop. With 36^4 codes per
	// scope, ten consecutive collisions means the scope is nearly full or
	// the entropy source is broken.
	DefaultMaxAttempts = 10

	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength   = 4
)

// ReceiptCodeScope is the namespace of receipt numbers.
const ReceiptCodeScope = "all tenants"

// InvoiceCodeScope is the namespace of one tenant's invoice codes.
func InvoiceCodeScope(tenantID string) string { return "tenant " + tenantID }

// ExistsFunc reports whether code is already used in the caller's scope.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// CodeGenerator produces short PREFIX-XXXX codes and retries on collision.
// Uniqueness comes from the check, not from construction.
type CodeGenerator struct {
	MaxAttempts int
	// Random returns one random code body. Nil uses crypto/rand.
	Random func() (string, error)
}

// NewCodeGenerator returns a generator with the given retry bound.
func NewCodeGenerator(maxAttempts int) *CodeGenerator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &CodeGenerator{MaxAttempts: maxAttempts}
}

// Generate returns prefix-XXXX that exists reports unused. scope only
// labels the error when the search gives up.
func (g *CodeGenerator) Generate(ctx context.Context, prefix, scope string, exists ExistsFunc) (string, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	random := g.Random
	if random == nil {
		random = randomBody
	}

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		body, err := random()
		if err != nil {
			return "", err
		}
		code := prefix + "-" + strings.ToUpper(body)
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", &GenerationError{Prefix: prefix, Scope: scope, Attempts: attempts}
}

func randomBody() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
