package search

import (
	"unicode/utf8"

	"github.com/dreamware/hashcrack/internal/digest"
)

// CrackPassword searches all strings of exactly length characters drawn from
// alphabet, repetition allowed, for one whose digest equals target.
//
// Candidates are tried in lexicographic order of the sorted alphabet and the
// first match is returned. ok is false when the whole space was exhausted.
func CrackPassword(alphabet string, length int, target string) (password string, ok bool) {
	if length < 0 {
		return "", false
	}
	c := &cracker{
		chars:  sortedUnique([]rune(alphabet)),
		buf:    make([]rune, length),
		enc:    make([]byte, 0, length*utf8.UTFMax),
		target: target,
	}
	if !c.extend(0) {
		return "", false
	}
	return string(c.buf), true
}

type cracker struct {
	target string
	chars  []rune
	buf    []rune
	// enc is the UTF-8 form of buf, rebuilt at every leaf.
	enc    []byte
}

// extend fills buf[pos:] depth-first and reports whether a match was found.
// On a match buf holds the password.
func (c *cracker) extend(pos int) bool {
	if pos == len(c.buf) {
		c.enc = c.enc[:0]
		for _, r := range c.buf {
			c.enc = utf8.AppendRune(c.enc, r)
		}
		return digest.Bytes(c.enc) == c.target
	}
	for _, r := range c.chars {
		c.buf[pos] = r
		if c.extend(pos + 1) {
			return true
		}
	}
	return false
}
