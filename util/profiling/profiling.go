// Package profiling serves the runtime profiles over HTTP.
package profiling

import (
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/infrastructure/logger"
	"github.com/selfnet/selfd/util/panics"
)

// NewHandler returns a handler serving the pprof endpoints under
// /debug/pprof/ and redirecting every other path there.
func NewHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/", http.RedirectHandler("/debug/pprof/", http.StatusSeeOther))
	return mux
}

// Start serves the profiles on port in the background and returns the
// server so the caller can shut it down.
func Start(port string, log *logger.Logger) *http.Server {
	server := &http.Server{
		Addr:    net.JoinHostPort("", port),
		Handler: NewHandler(),
	}
	spawn := panics.GoroutineWrapperFunc(log)
	spawn("profiling.Start", func() {
		log.Infof("Profile server listening on %s", server.Addr)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Profile server stopped: %s", err)
		}
	})
	return server
}
