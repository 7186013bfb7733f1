package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/example/watch-progress/internal/platform/api"
	"github.com/example/watch-progress/internal/platform/auth"
)

var (
	errUserMismatch = errors.New("userId does not match the authenticated user")
	errUserRequired = errors.New("userId is required")
)

// resolveUser picks the acting user. A token subject wins; a supplied userId
// must then match it. Without a token the supplied value is required.
func resolveUser(r *http.Request, supplied string) (string, error) {
	supplied = strings.TrimSpace(supplied)
	if uid, ok := auth.UserIDFromContext(r.Context()); ok && uid != "" {
		if supplied != "" && supplied != uid {
			return "", errUserMismatch
		}
		return uid, nil
	}
	if supplied == "" {
		return "", errUserRequired
	}
	return supplied, nil
}

func writeIdentityError(w http.ResponseWriter, rid string, err error) {
	if errors.Is(err, errUserMismatch) {
		api.Forbidden(w, "FORBIDDEN", err.Error(), rid)
		return
	}
	api.BadRequest(w, "MISSING_FIELD", err.Error(), rid, map[string]any{"field": "userId"})
}
