package presence

import (
	"math/rand/v2"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/serroba/livedoc/internal/protocol"
)

// DefaultName is used when a participant gives no name.
const DefaultName = "User"

// Palette is the set of participant colors.
var Palette = []string{
	"#4285f4",
	"#34a853",
	"#fbbc05",
	"#ea4335",
	"#9c27b0",
	"#009688",
	"#ff9800",
}

// NewParticipant creates a participant with a fresh ID and a random color.
func NewParticipant(name string) protocol.Participant {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}

	return protocol.Participant{
		ID:          uuid.NewString(),
		DisplayName: name,
		Color:       Palette[rand.IntN(len(Palette))],
		Avatar:      Avatar(name),
	}
}

// Avatar returns the upper-cased first character of name, or "?".
func Avatar(name string) string {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(name))
	if r == utf8.RuneError {
		return "?"
	}

	return string(unicode.ToUpper(r))
}
