package storage

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// maxNameLen caps the sanitised filename portion of an object key.
const maxNameLen = 100

// ObjectKey builds the key an image is stored under:
// <userID>/<unixMillis>_<uuid>_<sanitisedName>. The random token keeps two
// uploads of the same file in the same millisecond apart.
func ObjectKey(userID uuid.UUID, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%d_%s_%s", userID, now.UnixMilli(), uuid.NewString(), SanitizeName(filename))
}

// SanitizeName reduces a client-supplied filename to a safe key segment.
// Directory parts are dropped, runs of unsafe characters become a single
// dash and the result is lower-cased. Returns "image" if nothing is left.
func SanitizeName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = ""
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '_':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}

	out := strings.Trim(b.String(), "-.")
	if len(out) > maxNameLen {
		out = strings.Trim(out[len(out)-maxNameLen:], "-.")
	}
	if out == "" {
		return "image"
	}
	return out
}
