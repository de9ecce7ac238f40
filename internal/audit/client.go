package audit

import (
	"net"
	"net/http"
	"strings"

	"github.com/welldanyogia/emx-dashboard/backend/internal/sanitizer"
)

// ClientInfo identifies the origin of a request
type ClientInfo struct {
	IP        string
	UserAgent string
}

var textSanitizer = sanitizer.NewTextSanitizer()

// ClientInfoFromRequest extracts the caller IP and a sanitized user agent.
// X-Forwarded-For and X-Real-IP are honoured by chi's RealIP middleware upstream,
// which rewrites RemoteAddr, so only RemoteAddr is read here.
func ClientInfoFromRequest(r *http.Request) ClientInfo {
	return ClientInfo{
		IP:        remoteIP(r.RemoteAddr),
		UserAgent: textSanitizer.UserAgent(r.UserAgent()),
	}
}

func remoteIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
