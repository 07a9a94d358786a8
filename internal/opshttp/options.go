package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-docs/internal/health"
)

// DefaultPort is used when Options.Port is 0.
const DefaultPort = 9000

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
}
