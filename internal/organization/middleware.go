package organization

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/cutroom/cutroom/internal/auth"
	"github.com/cutroom/cutroom/internal/database"
	"github.com/cutroom/cutroom/internal/httputil"
)

// Middleware reads the X-Organization-Id header, verifies the authenticated
// user is a member, and injects the verified org scope into the context.
// Requests without the header proceed without org context; org-scoped
// handlers then reject them individually.
func Middleware(db database.DBTX) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgID := r.Header.Get("X-Organization-Id")
			if orgID == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID := auth.UserIDFromContext(r.Context())
			if userID == "" {
				httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			var role string
			err := db.QueryRow(r.Context(),
				`SELECT role FROM organization_members
				 WHERE organization_id = $1 AND user_id = $2`,
				orgID, userID,
			).Scan(&role)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					httputil.WriteError(w, http.StatusForbidden, "not a member of this organization")
					return
				}
				httputil.WriteError(w, http.StatusInternalServerError, "failed to verify organization membership")
				return
			}

			ctx := auth.ContextWithOrg(r.Context(), orgID, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOrg returns the org id from context, or writes 403 and returns "".
func RequireOrg(w http.ResponseWriter, r *http.Request) string {
	orgID := auth.OrgIDFromContext(r.Context())
	if orgID == "" {
		httputil.WriteError(w, http.StatusForbidden, "organization context required")
	}
	return orgID
}

// RequireRole checks the caller's role in the current org context against an
// allowed set. Returns the role, or writes 403 and returns "".
func RequireRole(w http.ResponseWriter, r *http.Request, allowed ...string) string {
	role := auth.OrgRoleFromContext(r.Context())
	for _, a := range allowed {
		if role == a {
			return role
		}
	}
	httputil.WriteError(w, http.StatusForbidden, "insufficient permissions")
	return ""
}
