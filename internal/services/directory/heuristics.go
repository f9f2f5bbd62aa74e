package directory

import (
	"strings"
	"unicode"
)

// postomatTokens mark self-service parcel lockers in the carrier's free-text
// fields. Best-effort: the carrier exposes no guaranteed flag, so we match
// the English and Ukrainian tokens across type, category and description.
var postomatTokens = []string{"postomat", "поштомат"}

func isPostomat(typeOf, category, description string) bool {
	for _, field := range []string{typeOf, category, description} {
		low := strings.ToLower(field)
		for _, tok := range postomatTokens {
			if strings.Contains(low, tok) {
				return true
			}
		}
	}
	return false
}

// warehouseNumber falls back to parsing the first digit run after a "№" or
// "#" marker when the structured Number field is empty.
func warehouseNumber(number, description string) string {
	if number != "" {
		return number
	}
	idx := strings.IndexAny(description, "№#")
	if idx < 0 {
		return ""
	}
	rest := description[idx:]
	var b strings.Builder
	started := false
	for _, r := range rest {
		if unicode.IsDigit(r) {
			started = true
			b.WriteRune(r)
			continue
		}
		if started {
			break
		}
	}
	return b.String()
}
