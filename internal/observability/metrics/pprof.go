package metrics

import (
	"net/http"
	hpprof "net/http/pprof"
)

const pprofPrefix = "/debug/pprof/"

// mountPprof registers the runtime profiling handlers behind the same token
// as the scrape endpoint. Index also serves named profiles (heap, goroutine).
func mountPprof(mux *http.ServeMux, token string) {
	wrap := func(h http.HandlerFunc) http.Handler { return withAuth(token, h) }

	mux.Handle(pprofPrefix, wrap(hpprof.Index))
	mux.Handle(pprofPrefix+"cmdline", wrap(hpprof.Cmdline))
	mux.Handle(pprofPrefix+"profile", wrap(hpprof.Profile))
	mux.Handle(pprofPrefix+"symbol", wrap(hpprof.Symbol))
	mux.Handle(pprofPrefix+"trace", wrap(hpprof.Trace))
}
