package server

import (
	"net/http"

	"github.com/deixis/steward/internal/ops"
)

// RequirePrivilege rejects requests with 403 unless p is privileged.
func RequirePrivilege(p ops.Privilege, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.Privileged() {
			writeJSON(w, http.StatusForbidden, response{Status: "error", Message: ops.PrivilegeMessage})
			return
		}
		next.ServeHTTP(w, r)
	})
}
