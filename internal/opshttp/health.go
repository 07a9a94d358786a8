package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-docs/internal/health"
)

// probeHandler writes okBody when p passes and 503 with the reason otherwise.
// A nil probe always passes.
func probeHandler(p health.Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody + "\n"))
	}
}
