package middleware

import (
	"net/http"
	"os"
	"strings"

	"github.com/GeoRegistry/GR-Backend/internal/utils"
)

// ActingUserMiddleware lifts the gateway-supplied identity headers into the
// request context. The service sits behind an authenticating proxy, so the
// headers are trusted as-is; requests without an identity are anonymous,
// not rejected.
func ActingUserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := utils.ActingUser{
			ID:           r.Header.Get("X-Acting-User"),
			IsSuperadmin: strings.EqualFold(r.Header.Get("X-Superadmin"), "true"),
		}
		next.ServeHTTP(w, r.WithContext(utils.WithActingUser(r.Context(), user)))
	})
}

// RequireSuperadmin guards endpoints that force imports past blocking errors.
func RequireSuperadmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := utils.GetActingUserFromContext(r.Context())
		if !ok || user.ID == "" {
			http.Error(w, "Unauthorized: missing acting user", http.StatusUnauthorized)
			return
		}
		if !user.IsSuperadmin {
			http.Error(w, "Forbidden: superadmin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowedOrigins() map[string]struct{} {
	allowed := map[string]struct{}{
		"http://localhost:5173": {},
		"http://localhost:5174": {},
	}
	for _, origin := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	return allowed
}

var allowed = allowedOrigins()

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Echo the origin back only if it’s on our allow-list
		if _, ok := allowed[origin]; ok {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin") // important for caches
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods",
				"GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers",
				"Content-Type, Authorization, X-Acting-User, X-Superadmin")
		}

		w.Header().Set("Access-Control-Expose-Headers", "Retry-After, Cache-Control")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
