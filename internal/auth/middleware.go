package auth

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abrechnung/console/internal/platform/httpx"
	"github.com/abrechnung/console/internal/shared"
)

// RequireUser rejects requests without a live principal in the session.
// Page requests are redirected to the login form, API requests get a 401 problem.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		p, ok := sess.Principal()
		if ok && p.Expired(time.Now()) {
			sess.ClearPrincipal()
			sess.AddFlash(shared.FlashMessage{Kind: shared.FlashError, Message: shared.UserSafeMessage(shared.ErrUnauthenticated)})
			ok = false
		}
		if ok {
			next.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/") {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		http.Redirect(w, r, "/auth/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
	})
}
