package main

import (
	"errors"
	"net/http"
)

// newHTTPServer builds the bound HTTP server for serve. Bare *http.Server
// with http.ListenAndServe is sufficient here; the teacher's SO_REUSEADDR
// net.ListenConfig exists to survive its own rapid dev-reload cycles, which
// this deployment's single long-lived serve process does not need.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{Addr: addr, Handler: handler}
}

func isServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
