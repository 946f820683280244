package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/inboxpilot/internal/api/response"
	"github.com/kiranshivaraju/inboxpilot/internal/metrics"
)

// Recovery turns a handler panic into a 500 envelope. http.ErrAbortHandler is
// re-raised so net/http can abort the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			metrics.HTTPPanic()
			slog.Error("handler panic",
				"panic", rec,
				"request_id", GetRequestID(r),
				"client", clientID(r),
				"route", r.Method+" "+r.URL.Path,
				"stack", string(debug.Stack()),
			)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "internal server error", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
