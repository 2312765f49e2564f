package services

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// JoinCodeAlphabet leaves out 0/O and 1/I/L so staff can read the code off a
// guest screen at a glance.
const JoinCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// CodeTaken reports whether code is held by a live session in scope.
type CodeTaken func(scope, code string) (bool, error)

// CodeGenerator produces short join codes that do not collide with codes
// currently active in the same scope (merchant).
type CodeGenerator struct {
	Length      int
	Alphabet    string
	MaxAttempts int
	Rand        io.Reader
}

func NewCodeGenerator(length, maxAttempts int) *CodeGenerator {
	return &CodeGenerator{
		Length:      length,
		Alphabet:    JoinCodeAlphabet,
		MaxAttempts: maxAttempts,
		Rand:        rand.Reader,
	}
}

// Generate draws fresh codes until taken reports one as free. It gives up with
// ErrCodeSpaceExhausted after MaxAttempts collisions and never returns a code
// that taken reported as in use.
func (g *CodeGenerator) Generate(scope string, taken CodeTaken) (string, error) {
	for attempt := 0; attempt < g.MaxAttempts; attempt++ {
		code, err := g.random()
		if err != nil {
			return "", err
		}
		inUse, err := taken(scope, code)
		if err != nil {
			return "", fmt.Errorf("check join code: %w", err)
		}
		if !inUse {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

func (g *CodeGenerator) random() (string, error) {
	max := big.NewInt(int64(len(g.Alphabet)))
	buf := make([]byte, g.Length)
	for i := range buf {
		n, err := rand.Int(g.Rand, max)
		if err != nil {
			return "", fmt.Errorf("generate join code: %w", err)
		}
		buf[i] = g.Alphabet[n.Int64()]
	}
	return string(buf), nil
}
