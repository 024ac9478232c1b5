package status

import (
	"net/http"

	"github.com/serialusb/serialusbd-go/core"
	"github.com/serialusb/serialusbd-go/memorywriter"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"
)

// This package serves the status page on /status/ and the detailed
// log file at /status/log.gz

type status struct {
	core                                *core.Core
	version                             string
	shortMemoryWriter, longMemoryWriter *memorywriter.MemoryWriter
}

const csrfkey = "x91kd04aql2hfur8smbc37jtw5yn6gpe"

const statusURL = "http://127.0.0.1:21427/status/"

func ServeStatusRedirect(r *mux.Router) {
	r.HandleFunc("/", redirect)
	r.Use(OriginCheck(map[string]string{
		"/": "",
	}))
}

func redirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, statusURL, http.StatusMovedPermanently)
}

func ServeStatus(r *mux.Router, c *core.Core, v string, mw, dmw *memorywriter.MemoryWriter) {
	status := &status{
		core:              c,
		version:           v,
		shortMemoryWriter: mw,
		longMemoryWriter:  dmw,
	}
	r.Methods("GET").Path("/").HandlerFunc(status.statusPage)
	r.Methods("POST").Path("/log.gz").HandlerFunc(status.statusGzip)

	r.Use(csrf.Protect([]byte(csrfkey), csrf.Secure(false)))
	r.Use(OriginCheck(map[string]string{
		"/status/":       "",
		"/status/log.gz": "http://127.0.0.1:21427",
	}))
}

func (s *status) statusGzip(w http.ResponseWriter, r *http.Request) {
	s.longMemoryWriter.Log("status - building gzip")

	gzip, err := s.longMemoryWriter.Gzip(s.version + "\n")
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")

	_, err = w.Write(gzip)
	if err != nil {
		respondError(w, err)
		return
	}
}

func (s *status) statusPage(w http.ResponseWriter, r *http.Request) {
	s.longMemoryWriter.Log("status - building status page")

	var templateErr error
	devices, err := s.core.Discover(0)
	if err != nil {
		s.longMemoryWriter.Log("status - discover err " + err.Error())
		templateErr = err
	}

	log, err := s.shortMemoryWriter.String(s.version + "\n")
	if err != nil {
		respondError(w, err)
		return
	}

	strErr := ""
	if templateErr != nil {
		strErr = templateErr.Error()
	}

	data := &statusTemplateData{
		Version:     s.version,
		Devices:     devices,
		DeviceCount: len(devices),
		Log:         log,
		IsError:     templateErr != nil,
		Error:       strErr,
		CSRFField:   csrf.TemplateField(r),
	}

	err = statusTemplate.Execute(w, data)
	if err != nil {
		respondError(w, err)
		return
	}
}

func respondError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}
