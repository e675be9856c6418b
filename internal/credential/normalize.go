package credential

import (
	"strings"

	"github.com/yangwenmai/infographer/internal/model"
)

// Normalize cleans values pasted from browser devtools: surrounding
// whitespace, a leading "Cookie:" header name and one pair of matching
// quotes are removed.
func Normalize(cookie, token string) model.Credential {
	cookie = strings.TrimSpace(cookie)
	if len(cookie) >= len("cookie:") && strings.EqualFold(cookie[:len("cookie:")], "cookie:") {
		cookie = strings.TrimSpace(cookie[len("cookie:"):])
	}
	return model.Credential{
		Cookie:  unquote(cookie),
		ATToken: unquote(strings.TrimSpace(token)),
	}
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
