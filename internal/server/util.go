package server

import (
	"crypto/subtle"
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeVersion validates a version before it reaches git checkout.
// Allowed characters: A-Z a-z 0-9 . _ - + / with no "..", and no leading
// '-' so it cannot be read as an option.
func isSafeVersion(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	if strings.HasPrefix(s, "-") || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' || r == '+' || r == '/' {
			continue
		}
		return false
	}
	return true
}

// requestToken reads ?token= or an "Authorization: token <t>" header.
// "Bearer" is accepted as well.
func requestToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	for _, scheme := range []string{"token ", "Bearer "} {
		if len(h) > len(scheme) && strings.EqualFold(h[:len(scheme)], scheme) {
			return strings.TrimSpace(h[len(scheme):])
		}
	}
	return ""
}

func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
