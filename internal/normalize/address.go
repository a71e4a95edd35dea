package normalize

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"propertyfeed/internal/models"
)

// derivedIDLength is the number of hex characters kept from the address hash.
const derivedIDLength = 24

var addressTokens = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"av":        "ave",
	"road":      "rd",
	"drive":     "dr",
	"boulevard": "blvd",
	"lane":      "ln",
	"court":     "ct",
	"place":     "pl",
	"terrace":   "ter",
	"parkway":   "pkwy",
	"highway":   "hwy",
	"circle":    "cir",
	"square":    "sq",
	"trail":     "trl",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
	"northeast": "ne",
	"northwest": "nw",
	"southeast": "se",
	"southwest": "sw",
	"apartment": "apt",
	"suite":     "ste",
	"unit":      "unit",
	"number":    "no",
}

// NormalizeAddress folds an address into a comparison form: diacritics removed, lower
// case, punctuation dropped and common suffixes abbreviated.
func NormalizeAddress(parts ...string) string {
	joined := strings.Join(parts, " ")

	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, joined)
	if err != nil {
		folded = joined
	}
	folded = strings.ToLower(folded)

	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, token := range tokens {
		if short, ok := addressTokens[token]; ok {
			tokens[i] = short
		}
	}
	return strings.Join(tokens, " ")
}

// DeriveExternalID builds a stable identity for records whose provider has no natural id.
// Distinct units sharing one postal address collide; that is accepted.
func DeriveExternalID(source models.Source, address, city, state, zip string) string {
	normalized := NormalizeAddress(address, city, state, zip)
	sum := sha256.Sum256([]byte(string(source) + "|" + normalized))
	return "addr-" + fmt.Sprintf("%x", sum)[:derivedIDLength]
}
