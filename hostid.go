package telemetry

import (
	"os"
	"sync"
)

// unknownHost is the placeholder host label used when resolution fails.
const unknownHost = "unknown"

// hostTagKey is the implicit tag attached to every submitted point.
const hostTagKey = "host"

// Hostname returns the local host's network name, resolved once per process
// and cached. Resolution failure yields a fixed placeholder rather than an
// error so the pipeline never depends on name resolution working.
var Hostname = sync.OnceValue(func() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return unknownHost
	}
	return h
})
