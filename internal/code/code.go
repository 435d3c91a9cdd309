package code

import (
	"context"
	"regexp"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet holds every symbol a clipboard code may contain.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Length is the fixed code length.
const Length = 5

var codePattern = regexp.MustCompile(`^[A-Z0-9]{5}$`)

// Generator produces random clipboard codes.
type Generator struct{}

// NewGenerator returns a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns a new code.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return gonanoid.Generate(Alphabet, Length)
}

// Normalize trims surrounding whitespace and uppercases the candidate.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Valid reports whether s, after Normalize, is a well-formed code.
func Valid(s string) bool {
	return codePattern.MatchString(Normalize(s))
}
