// Package record reads password records from their CSV source and collects the
// cracked results for rendering.
package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dreamware/hashcrack/internal/digest"
)

// ErrMalformed is wrapped by every Parse error.
var ErrMalformed = errors.New("malformed record")

// minFields is id, name, alphabet, length and password hash; hints follow.
const minFields = 5

// UserRecord is one user's cracking unit. It is never mutated after Parse.
type UserRecord struct {
	Name           string   `json:"name"`
	Alphabet       string   `json:"alphabet"`
	PasswordHash   string   `json:"password_hash"`
	HintHashes     []string `json:"hint_hashes"`
	ID             int      `json:"id"`
	PasswordLength int      `json:"password_length"`
}

// HintPrefixLength is the length of the alphabet permutation prefix a hint
// digest covers: the password length, bounded by the alphabet size.
func (r UserRecord) HintPrefixLength() int {
	n := len([]rune(r.Alphabet))
	if r.PasswordLength < n {
		return r.PasswordLength
	}
	return n
}

// Parse builds a UserRecord from one raw input line laid out as
// ID;Name;PasswordChars;PasswordLength;Password;Hint1;...;HintN.
func Parse(fields []string) (UserRecord, error) {
	if len(fields) < minFields {
		return UserRecord{}, fmt.Errorf("%w: expected at least %d fields, got %d", ErrMalformed, minFields, len(fields))
	}

	id, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return UserRecord{}, fmt.Errorf("%w: id %q: %v", ErrMalformed, fields[0], err)
	}
	alphabet := strings.TrimSpace(fields[2])
	if alphabet == "" {
		return UserRecord{}, fmt.Errorf("%w: record %d has an empty alphabet", ErrMalformed, id)
	}
	length, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil || length < 0 {
		return UserRecord{}, fmt.Errorf("%w: record %d password length %q", ErrMalformed, id, fields[3])
	}
	password := strings.ToLower(strings.TrimSpace(fields[4]))
	if !digest.Valid(password) {
		return UserRecord{}, fmt.Errorf("%w: record %d password hash %q", ErrMalformed, id, fields[4])
	}

	hints := make([]string, 0, len(fields)-minFields)
	for _, f := range fields[minFields:] {
		h := strings.ToLower(strings.TrimSpace(f))
		if h == "" {
			continue
		}
		if !digest.Valid(h) {
			return UserRecord{}, fmt.Errorf("%w: record %d hint hash %q", ErrMalformed, id, f)
		}
		hints = append(hints, h)
	}

	return UserRecord{
		ID:             id,
		Name:           strings.TrimSpace(fields[1]),
		Alphabet:       alphabet,
		PasswordLength: length,
		PasswordHash:   password,
		HintHashes:     hints,
	}, nil
}
