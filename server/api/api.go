package api

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/serialusb/serialusbd-go/core"
	"github.com/serialusb/serialusbd-go/memorywriter"

	"github.com/gorilla/mux"
)

// This package serves the bridge API. The actual device logic is in
// the core package; here we only convert request data to core calls
// and format the replies.

const maxDiscover = 64

type api struct {
	core    *core.Core
	version string
	logger  *memorywriter.MemoryWriter

	sessions      map[string]*core.Session
	sessionsMutex sync.Mutex
	latestID      int
}

func ServeAPI(r *mux.Router, c *core.Core, v string, l *memorywriter.MemoryWriter) error {
	a := &api{
		core:     c,
		version:  v,
		logger:   l,
		sessions: make(map[string]*core.Session),
	}
	r.HandleFunc("/", a.Info)
	r.HandleFunc("/discover", a.Discover)
	r.HandleFunc("/open/{path}", a.Open)
	r.HandleFunc("/send/{session}", a.Send)
	r.HandleFunc("/receive/{session}/{count}", a.Receive)
	r.HandleFunc("/configure/{session}", a.Configure)
	r.HandleFunc("/close/{session}", a.Close)
	r.HandleFunc("/error/{session}", a.LastError)

	r.Use(CORS(corsValidator()))
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (a *api) respondError(w http.ResponseWriter, err error, code core.Code) {
	a.logger.Log("api - error: " + err.Error())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: err.Error(),
		Code:  int(code),
	})
}

func (a *api) checkJSONError(w http.ResponseWriter, err error) {
	if err != nil {
		a.respondError(w, err, core.CodeNone)
	}
}

func (a *api) Info(w http.ResponseWriter, r *http.Request) {
	a.logger.Log("api - version " + a.version)

	type info struct {
		Version string `json:"version"`
	}
	err := json.NewEncoder(w).Encode(info{
		Version: a.version,
	})
	a.checkJSONError(w, err)
}

func (a *api) Discover(w http.ResponseWriter, r *http.Request) {
	a.logger.Log("api - discover")

	infos, err := a.core.Discover(maxDiscover)
	if err != nil {
		a.respondError(w, err, core.CodeOf(err, core.CodeNotFound))
		return
	}
	err = json.NewEncoder(w).Encode(infos)
	a.checkJSONError(w, err)
}

// Open looks the path up in a fresh enumeration, opens a session on
// the match and hands back a session id for the other endpoints.
func (a *api) Open(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	a.logger.Log("api - open " + path)

	infos, err := a.core.Discover(0)
	if err != nil {
		a.respondError(w, err, core.CodeOf(err, core.CodeNotFound))
		return
	}

	var found *core.DeviceInfo
	for i := range infos {
		if infos[i].Path == path {
			found = &infos[i]
			break
		}
	}
	if found == nil {
		a.respondError(w, core.ErrDeviceNotFound, core.CodeNotFound)
		return
	}

	sess, err := a.core.Open(*found)
	if err != nil {
		a.respondError(w, err, sess.LastError())
		return
	}

	a.sessionsMutex.Lock()
	a.latestID++
	id := strconv.Itoa(a.latestID)
	a.sessions[id] = sess
	a.sessionsMutex.Unlock()

	type result struct {
		Session string `json:"session"`
	}
	err = json.NewEncoder(w).Encode(result{Session: id})
	a.checkJSONError(w, err)
}

func (a *api) session(id string) *core.Session {
	a.sessionsMutex.Lock()
	defer a.sessionsMutex.Unlock()
	return a.sessions[id]
}

func (a *api) Send(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a.logger.Log("api - send " + vars["session"])

	sess := a.session(vars["session"])
	if sess == nil {
		a.respondError(w, core.ErrNotOpen, core.CodeNotOpen)
		return
	}

	hexbody, err := io.ReadAll(r.Body)
	if err != nil {
		a.respondError(w, err, core.CodeNone)
		return
	}
	binbody, err := hex.DecodeString(string(hexbody))
	if err != nil {
		a.respondError(w, err, core.CodeNone)
		return
	}

	if err := sess.Send(binbody); err != nil {
		a.respondError(w, err, sess.LastError())
		return
	}
	err = json.NewEncoder(w).Encode(struct{}{})
	a.checkJSONError(w, err)
}

func (a *api) Receive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a.logger.Log("api - receive " + vars["session"])

	sess := a.session(vars["session"])
	if sess == nil {
		a.respondError(w, core.ErrNotOpen, core.CodeNotOpen)
		return
	}

	count, err := strconv.Atoi(vars["count"])
	if err != nil || count <= 0 {
		a.respondError(w, core.ErrInvalidConfig, core.CodeInvalidConfig)
		return
	}

	buf := make([]byte, count)
	n, err := sess.Receive(buf)
	if err != nil {
		a.respondError(w, err, sess.LastError())
		return
	}

	_, err = w.Write([]byte(hex.EncodeToString(buf[:n])))
	if err != nil {
		a.respondError(w, err, core.CodeNone)
	}
}

// Configure takes the named-option form, e.g.
// {"timeout_ms": 500, "endpoint_out": 2}. Unknown names are rejected,
// not silently dropped.
func (a *api) Configure(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a.logger.Log("api - configure " + vars["session"])

	sess := a.session(vars["session"])
	if sess == nil {
		a.respondError(w, core.ErrNotOpen, core.CodeNotOpen)
		return
	}

	var options map[string]int64
	if err := json.NewDecoder(r.Body).Decode(&options); err != nil {
		a.respondError(w, err, core.CodeInvalidConfig)
		return
	}

	cfg := sess.Config()
	for name, value := range options {
		p, err := core.ParseParam(name)
		if err != nil {
			a.respondError(w, err, core.CodeInvalidConfig)
			return
		}
		if err := cfg.Set(p, value); err != nil {
			a.respondError(w, err, core.CodeInvalidConfig)
			return
		}
	}

	if err := sess.Configure(cfg); err != nil {
		a.respondError(w, err, sess.LastError())
		return
	}
	err := json.NewEncoder(w).Encode(struct{}{})
	a.checkJSONError(w, err)
}

func (a *api) Close(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a.logger.Log("api - close " + vars["session"])

	a.sessionsMutex.Lock()
	sess := a.sessions[vars["session"]]
	delete(a.sessions, vars["session"])
	a.sessionsMutex.Unlock()

	if sess != nil {
		sess.Close()
	}

	err := json.NewEncoder(w).Encode(vars)
	a.checkJSONError(w, err)
}

func (a *api) LastError(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	sess := a.session(vars["session"])
	if sess == nil {
		a.respondError(w, core.ErrNotOpen, core.CodeNotOpen)
		return
	}

	code := sess.LastError()
	type result struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	}
	err := json.NewEncoder(w).Encode(result{
		Code: int(code),
		Name: code.String(),
	})
	a.checkJSONError(w, err)
}
