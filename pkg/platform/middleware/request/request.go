// Package request stamps every HTTP request with an id and a single "now"
// so logs, audit entries and domain timestamps agree within one call.
package request

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"organlink/pkg/requestcontext"
)

const HeaderRequestID = "X-Request-ID"

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, reqID)

		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		ctx = requestcontext.WithTime(ctx, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
