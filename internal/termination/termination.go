// Package termination decides whether a conversation should end, either
// because the user typed an exit phrase or because the model answered with
// the farewell token it was instructed to use.
package termination

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// FarewellToken is the reply the termination rule asks the model for.
const FarewellToken = "再见"

// MaxSignalLength is the longest cleaned reply, in characters, that may still
// count as a farewell when it merely contains the token.
const MaxSignalLength = 5

// DefaultExitPhrases are the inputs that end a session without a model call.
var DefaultExitPhrases = []string{"再见", "退出", "结束", "bye", "exit", "quit", "end"}

// strippedPunctuation is removed from replies before they are classified.
const strippedPunctuation = "!！,，。.~～"

// Detector holds the rule set. The zero value is not useful; use Default.
type Detector struct {
	ExitPhrases   []string
	FarewellToken string
	MaxLength     int
}

// Default returns the canonical rule set.
func Default() Detector {
	phrases := make([]string, len(DefaultExitPhrases))
	copy(phrases, DefaultExitPhrases)
	return Detector{
		ExitPhrases:   phrases,
		FarewellToken: FarewellToken,
		MaxLength:     MaxSignalLength,
	}
}

// UserRequestsExit reports whether the trimmed input is exactly one of the
// exit phrases. ASCII letters compare case-insensitively.
func (d Detector) UserRequestsExit(input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}
	for _, phrase := range d.ExitPhrases {
		if strings.EqualFold(input, phrase) {
			return true
		}
	}
	return false
}

// AssistantSignalsExit reports whether the reply is the farewell token,
// tolerating surrounding whitespace, punctuation and a short honorific.
func (d Detector) AssistantSignalsExit(reply string) bool {
	if d.FarewellToken == "" {
		return false
	}
	cleaned := Clean(reply)
	if cleaned == d.FarewellToken {
		return true
	}
	return utf8.RuneCountInString(cleaned) <= d.MaxLength && strings.Contains(cleaned, d.FarewellToken)
}

// Clean removes whitespace and the stripped punctuation set from s.
func Clean(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || strings.ContainsRune(strippedPunctuation, r) {
			return -1
		}
		return r
	}, s)
}

// UserRequestsExit applies the default rule set.
func UserRequestsExit(input string) bool {
	return Default().UserRequestsExit(input)
}

// AssistantSignalsExit applies the default rule set.
func AssistantSignalsExit(reply string) bool {
	return Default().AssistantSignalsExit(reply)
}
