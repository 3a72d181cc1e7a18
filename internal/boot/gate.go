// ABOUTME: HTTP gate serving loading and failure screens until the coordinator is Ready
// ABOUTME: Booting answers 503 with auto-refresh; Failed answers 500 with a reload action

package boot

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Pages renders the full-page boot screens.
type Pages interface {
	Loading(w io.Writer, refreshSeconds int) error
	Failed(w io.Writer, err error) error
}

// Gate wraps next so it only runs once the coordinator is Ready.
func (c *Coordinator) Gate(pages Pages, refresh time.Duration) func(http.Handler) http.Handler {
	secs := max(1, int(refresh/time.Second))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch c.State() {
			case Ready:
				next.ServeHTTP(w, r)
				return
			case Failed:
				c.writePage(w, http.StatusInternalServerError, func(buf io.Writer) error {
					return pages.Failed(buf, c.Err())
				})
			default:
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Refresh", strconv.Itoa(secs))
				c.writePage(w, http.StatusServiceUnavailable, func(buf io.Writer) error {
					return pages.Loading(buf, secs)
				})
			}
		})
	}
}

func (c *Coordinator) writePage(w http.ResponseWriter, status int, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		c.logger.Error("rendering boot page", "error", err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
