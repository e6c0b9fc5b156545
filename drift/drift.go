// Package drift fingerprints the markup structure of a page so a failed run
// can be told apart from a page whose layout changed.
package drift

import (
	"fmt"
	"hash/fnv"
	"math/bits"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// DefaultThreshold is the Hamming distance above which two fingerprints are
// considered different layouts.
const DefaultThreshold = 10

// Fingerprint returns a 64-bit SimHash over the element structure of rawHTML.
// Each element contributes its tag name and sorted class list; text and
// other attributes are ignored. A document without elements hashes to 0.
func Fingerprint(rawHTML string) uint64 {
	tokens := elementTokens(rawHTML)
	switch {
	case len(tokens) == 0:
		return 0
	case len(tokens) < shingleSize:
		return simhash(tokens)
	default:
		return simhash(shingles(tokens, shingleSize))
	}
}

const shingleSize = 3

// Distance is the number of differing bits between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Format renders a fingerprint as 16 hex digits.
func Format(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}

// Parse reads a fingerprint written by Format.
func Parse(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 16, 64)
}

// Report compares a document with a known-good baseline.
type Report struct {
	Fingerprint uint64
	Baseline    uint64
	Distance    int
	Drifted     bool
}

// Compare fingerprints rawHTML and measures it against baseline.
func Compare(baseline uint64, rawHTML string, threshold int) Report {
	fp := Fingerprint(rawHTML)
	d := Distance(baseline, fp)
	return Report{
		Fingerprint: fp,
		Baseline:    baseline,
		Distance:    d,
		Drifted:     d > threshold,
	}
}

// elementTokens walks the document with the tokenizer and returns one token
// per start tag, e.g. "button.accordion-button.collapsed".
func elementTokens(rawHTML string) []string {
	z := html.NewTokenizer(strings.NewReader(rawHTML))
	var tokens []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tokens
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			tokens = append(tokens, elementToken(tok))
		}
	}
}

func elementToken(tok html.Token) string {
	for _, a := range tok.Attr {
		if a.Key != "class" {
			continue
		}
		classes := strings.Fields(a.Val)
		if len(classes) == 0 {
			break
		}
		slices.Sort(classes)
		return tok.Data + "." + strings.Join(classes, ".")
	}
	return tok.Data
}

func shingles(tokens []string, n int) []string {
	out := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+n], " "))
	}
	return out
}

// simhash accumulates FNV-64a hashes of features into a bit vote.
func simhash(features []string) uint64 {
	var vector [64]int
	for _, f := range features {
		h := fnv.New64a()
		h.Write([]byte(f))
		sum := h.Sum64()
		for i := 0; i < 64; i++ {
			if sum&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fp uint64
	for i, v := range vector {
		if v > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}
