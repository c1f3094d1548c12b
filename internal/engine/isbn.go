package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NormalizeISBN strips separators from a raw identifier, validates its check
// digit, and canonicalizes it to ISBN-13 so the cache and the metadata
// source see a single key form. A trailing x is uppercased before
// validation.
func NormalizeISBN(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteByte('X')
		case r == '-' || r == ' ' || r == '\t':
			// separators
		default:
			return "", fmt.Errorf("invalid character %q in identifier", r)
		}
	}

	id := b.String()
	switch len(id) {
	case 10:
		if !validISBN10(id) {
			return "", errors.New("ISBN-10 check digit mismatch")
		}
		return isbn10To13(id), nil
	case 13:
		if strings.Contains(id, "X") {
			return "", errors.New("ISBN-13 must be numeric")
		}
		if !validISBN13(id) {
			return "", errors.New("ISBN-13 check digit mismatch")
		}
		return id, nil
	default:
		return "", fmt.Errorf("identifier has %d significant characters, want 10 or 13", len(id))
	}
}

// validISBN10 checks the mod-11 weighted sum. X counts as 10 and is only
// legal in the last position.
func validISBN10(id string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		var v int
		switch c := id[i]; {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c == 'X' && i == 9:
			v = 10
		default:
			return false
		}
		sum += (10 - i) * v
	}
	return sum%11 == 0
}

func validISBN13(id string) bool {
	return isbn13CheckDigit(id[:12]) == int(id[12]-'0')
}

// isbn13CheckDigit computes the mod-10 check digit for a 12-digit prefix.
func isbn13CheckDigit(prefix string) int {
	sum := 0
	for i := 0; i < 12; i++ {
		v := int(prefix[i] - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return (10 - sum%10) % 10
}

// isbn10To13 converts a validated ISBN-10 to its 978-prefixed ISBN-13 form,
// recomputing the check digit.
func isbn10To13(id string) string {
	prefix := "978" + id[:9]
	return prefix + strconv.Itoa(isbn13CheckDigit(prefix))
}
