package server

import (
	"io"
	"net/http"

	"github.com/serialusb/serialusbd-go/core"
	"github.com/serialusb/serialusbd-go/memorywriter"
	"github.com/serialusb/serialusbd-go/server/api"
	"github.com/serialusb/serialusbd-go/server/status"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const serverAddress = "127.0.0.1:21427"

// Server is the HTTP bridge. It only converts requests to calls into
// the core and formats the replies; all device logic lives below it.
type Server struct {
	https *http.Server
	core  *core.Core

	logger *memorywriter.MemoryWriter
}

func New(
	c *core.Core,
	logWriter io.Writer,
	shortMW, longMW *memorywriter.MemoryWriter,
	version string,
) (*Server, error) {
	r := mux.NewRouter()

	sr := r.PathPrefix("/status").Subrouter()
	status.ServeStatus(sr, c, version, shortMW, longMW)
	status.ServeStatusRedirect(r.Methods("GET").Path("/").Subrouter())

	ar := r.Methods("POST").Subrouter()
	if err := api.ServeAPI(ar, c, version, longMW); err != nil {
		return nil, err
	}

	var h http.Handler = r
	// Log after the request is done, in the Apache format.
	h = handlers.LoggingHandler(logWriter, h)
	// Log when the request is received.
	h = logRequest(h, longMW)

	https := &http.Server{
		Addr:    serverAddress,
		Handler: h,
	}

	return &Server{
		https:  https,
		core:   c,
		logger: longMW,
	}, nil
}

func logRequest(handler http.Handler, logger *memorywriter.MemoryWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Log("request - " + r.Method + " " + r.URL.String())
		handler.ServeHTTP(w, r)
	})
}

func (s *Server) Run() error {
	return s.https.ListenAndServe()
}

func (s *Server) Close() error {
	return s.https.Close()
}
