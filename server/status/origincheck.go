package status

import "net/http"

// OriginCheck is middleware that pins each path to the one Origin
// header value it accepts (empty string for same-origin requests that
// send none). Everything else is refused, and framing is denied so the
// status page cannot be embedded by another site.
func OriginCheck(allowed map[string]string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected, ok := allowed[r.URL.Path]
			if !ok || r.Header.Get("Origin") != expected {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("X-Frame-Options", "DENY")
			h.ServeHTTP(w, r)
		})
	}
}
