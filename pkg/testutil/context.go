package testutil

import "net/http"

// WithBearer authenticates req with an access token.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
