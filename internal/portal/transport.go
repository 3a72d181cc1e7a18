// ABOUTME: In-process http.RoundTripper serving client requests straight from a handler
// ABOUTME: Lets the built-in API be consumed without a loopback socket or tailnet dial

package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
)

// handlerTransport answers every request by calling handler directly.
type handlerTransport struct {
	handler http.Handler
}

func (t handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	// The handler must not see the caller's request-scoped values (chi keeps
	// its route context there) but still ends with the caller.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if deadline, ok := req.Context().Deadline(); ok {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(req.Context(), cancel)
	defer stop()

	in := req.Clone(ctx)
	in.RequestURI = req.URL.RequestURI()
	in.RemoteAddr = "127.0.0.1:0"
	if in.Body == nil {
		in.Body = http.NoBody
	}

	rec := httptest.NewRecorder()
	t.handler.ServeHTTP(rec, in)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}
