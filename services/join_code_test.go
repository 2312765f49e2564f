package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeGeneratorUsesAlphabetAndLength(t *testing.T) {
	gen := NewCodeGenerator(6, 5)
	for i := 0; i < 50; i++ {
		code, err := gen.Generate("m1", func(string, string) (bool, error) { return false, nil })
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			assert.Truef(t, strings.ContainsRune(JoinCodeAlphabet, r), "unexpected rune %q in %s", r, code)
		}
	}
}

func TestCodeGeneratorSkipsTakenCodes(t *testing.T) {
	gen := &CodeGenerator{Length: 1, Alphabet: "AB", MaxAttempts: 4, Rand: &cycleReader{seq: []byte{0, 1}}}

	var scopes []string
	code, err := gen.Generate("m1", func(scope, code string) (bool, error) {
		scopes = append(scopes, scope)
		return code == "A", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "B", code)
	assert.Equal(t, []string{"m1", "m1"}, scopes)
}

func TestCodeGeneratorGivesUp(t *testing.T) {
	gen := &CodeGenerator{Length: 1, Alphabet: "AB", MaxAttempts: 3, Rand: &cycleReader{seq: []byte{0, 1}}}

	calls := 0
	_, err := gen.Generate("m1", func(string, string) (bool, error) {
		calls++
		return true, nil
	})
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	assert.Equal(t, 3, calls)
}

func TestCodeGeneratorPropagatesLookupErrors(t *testing.T) {
	gen := NewCodeGenerator(4, 3)
	boom := errors.New("db down")

	_, err := gen.Generate("m1", func(string, string) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrCodeSpaceExhausted)
}
