package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP возвращает идентификатор клиента для бакетов.
// Заголовкам X-Forwarded-For (первый адрес) и X-Real-IP доверяем только
// при trustProxy, иначе их легко подделать и обойти лимит.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
