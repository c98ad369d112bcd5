package engine

import "strings"

// ClientIP picks the first comma-separated, trimmed, non-empty token of the
// forwarding header, falling back to the transport-level peer address. Callers
// must still sanitize the result before logging or forwarding it.
func ClientIP(forwardedFor, remoteAddr string) string {
	if strings.TrimSpace(forwardedFor) != "" {
		first := strings.TrimSpace(strings.SplitN(forwardedFor, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	return remoteAddr
}
