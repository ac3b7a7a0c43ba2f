package declarative

import (
	"regexp"
	"strings"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/manifest"
)

const affirmativeTerms = `yes|true|eligible|approved|qualif(?:y|ies|ied)|accepted|success(?:ful)?|confirmed|available|valid|active|ok`

var (
	affirmative = regexp.MustCompile(`(?i)\b(?:` + affirmativeTerms + `)\b`)
	// A negator only counts directly before an affirmative term.
	negated  = regexp.MustCompile(`(?i)\b(?:not|never|no longer|isn't|aren't|wasn't|weren't)\s+(?:yet\s+|currently\s+)?(?:` + affirmativeTerms + `)\b`)
	negative = regexp.MustCompile(`(?i)\b(?:ineligible|denied|declined|rejected|false|fail(?:ed)?|unavailable|invalid|unsuccessful|disqualified)\b`)
)

// Coerce converts raw page text to the output type. Numbers that do not
// parse become nil; everything else always yields a value.
func Coerce(raw string, typ manifest.OutputType) any {
	switch typ {
	case manifest.OutputNumber:
		v, ok := capability.Utils{}.ParseAmount(raw)
		if !ok {
			return nil
		}
		return v
	case manifest.OutputBoolean:
		return ParseBool(raw)
	default:
		return raw
	}
}

// ParseBool matches text against an affirmative vocabulary. Negative terms
// such as "denied" and a negated affirmative such as "not eligible" win;
// an unrelated "no" elsewhere in the text does not.
func ParseBool(raw string) bool {
	s := strings.TrimSpace(raw)
	if negative.MatchString(s) || negated.MatchString(s) {
		return false
	}
	return affirmative.MatchString(s)
}
