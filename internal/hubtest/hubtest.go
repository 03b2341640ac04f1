// Package hubtest provides an in-process fake Selenium hub for tests. It
// speaks just enough of the W3C and legacy JSON wire protocols to create a
// session, navigate, read the title and quit.
package hubtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTitle is the title reported for any loaded page.
const DefaultTitle = "Example"

// Options configures the fake hub.
type Options struct {
	// Title is reported for every page once one has been loaded. Empty means
	// DefaultTitle.
	Title string
	// BrowserVersion is returned in the session capabilities.
	BrowserVersion string
	// Legacy makes the hub answer like a Selenium 2 server.
	Legacy bool
	// PathPrefix is the URL path under which the hub serves, "/wd/hub" if
	// empty.
	PathPrefix string
	// RejectSession, if set, fails session creation with this message.
	RejectSession string
	// NavigationError, if set, fails every navigation with this message, as
	// geckodriver does when it lands on an error page.
	NavigationError string
}

// Request is one command received by the hub.
type Request struct {
	Method string
	// Path is the command path with the prefix removed, e.g. "/session".
	Path string
	Body map[string]interface{}
	At   time.Time
}

// Hub is a running fake hub.
type Hub struct {
	*httptest.Server
	opts Options

	mu       sync.Mutex
	requests []Request
	sessions map[string]*session
	nextID   int
}

type session struct {
	caps map[string]interface{}
	url  string
}

// New starts a hub listening on a loopback port. Call Close when done.
func New(opts Options) *Hub {
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.PathPrefix == "" {
		opts.PathPrefix = "/wd/hub"
	}
	h := &Hub{
		opts:     opts,
		sessions: make(map[string]*session),
	}
	h.Server = httptest.NewServer(http.HandlerFunc(h.serve))
	return h
}

// Host returns the IP address the hub listens on.
func (h *Hub) Host() string {
	host, _, _ := net.SplitHostPort(h.Listener.Addr().String())
	return host
}

// Port returns the port the hub listens on.
func (h *Hub) Port() int {
	return h.Listener.Addr().(*net.TCPAddr).Port
}

// URLPrefix returns the WebDriver endpoint of the hub.
func (h *Hub) URLPrefix() string {
	return h.URL + h.opts.PathPrefix
}

// Requests returns the commands received so far, oldest first.
func (h *Hub) Requests() []Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Request(nil), h.requests...)
}

// Commands returns "METHOD path" for every request received so far, with
// session IDs replaced by "{id}".
func (h *Hub) Commands() []string {
	var cmds []string
	for _, r := range h.Requests() {
		path := r.Path
		parts := strings.Split(path, "/")
		if len(parts) > 2 && parts[1] == "session" {
			parts[2] = "{id}"
			path = strings.Join(parts, "/")
		}
		cmds = append(cmds, r.Method+" "+path)
	}
	return cmds
}

// LiveSessions returns the IDs of sessions that have not been deleted.
func (h *Hub) LiveSessions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, h.opts.PathPrefix) {
		http.NotFound(w, r)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, h.opts.PathPrefix)

	var body map[string]interface{}
	if data, err := io.ReadAll(r.Body); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
			return
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, Request{Method: r.Method, Path: path, Body: body, At: time.Now()})

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && path == "/status":
		h.writeValue(w, "", map[string]interface{}{
			"ready":   true,
			"message": "Selenium Grid ready.",
			"build":   map[string]string{"version": "4.21.0"},
		})
	case r.Method == http.MethodPost && path == "/session":
		h.newSession(w, body)
	case len(parts) >= 2 && parts[0] == "session":
		s, ok := h.sessions[parts[1]]
		if !ok {
			h.writeError(w, http.StatusNotFound, "invalid session id", "No active session with ID "+parts[1])
			return
		}
		h.sessionCommand(w, r.Method, parts[1], s, strings.Join(parts[2:], "/"), body)
	default:
		h.writeError(w, http.StatusNotFound, "unknown command", r.Method+" "+path)
	}
}

func (h *Hub) newSession(w http.ResponseWriter, body map[string]interface{}) {
	if h.opts.RejectSession != "" {
		h.writeError(w, http.StatusInternalServerError, "session not created", h.opts.RejectSession)
		return
	}
	caps, _ := body["desiredCapabilities"].(map[string]interface{})
	if c, ok := body["capabilities"].(map[string]interface{}); ok {
		if always, ok := c["alwaysMatch"].(map[string]interface{}); ok {
			caps = always
		}
	}
	if caps == nil {
		caps = make(map[string]interface{})
	}

	h.nextID++
	id := "session-" + strconv.Itoa(h.nextID)
	reply := map[string]interface{}{"browserName": caps["browserName"]}
	h.sessions[id] = &session{caps: reply}
	if h.opts.Legacy {
		reply["version"] = h.opts.BrowserVersion
		h.writeValue(w, id, reply)
		return
	}
	reply["browserVersion"] = h.opts.BrowserVersion
	h.writeValue(w, "", map[string]interface{}{
		"sessionId":    id,
		"capabilities": reply,
	})
}

func (h *Hub) sessionCommand(w http.ResponseWriter, method, id string, s *session, cmd string, body map[string]interface{}) {
	switch {
	case method == http.MethodDelete && cmd == "":
		delete(h.sessions, id)
		h.writeValue(w, "", nil)
	case method == http.MethodGet && cmd == "":
		h.writeValue(w, "", s.caps)
	case method == http.MethodPost && cmd == "url":
		if h.opts.NavigationError != "" {
			h.writeError(w, http.StatusInternalServerError, "unknown error", h.opts.NavigationError)
			return
		}
		u, _ := body["url"].(string)
		s.url = u
		h.writeValue(w, "", nil)
	case method == http.MethodGet && cmd == "url":
		h.writeValue(w, "", s.url)
	case method == http.MethodGet && cmd == "title":
		title := ""
		if s.url != "" {
			title = h.opts.Title
		}
		h.writeValue(w, "", title)
	case method == http.MethodGet && cmd == "source":
		h.writeValue(w, "", fmt.Sprintf("<html><head><title>%s</title></head><body></body></html>", h.opts.Title))
	case method == http.MethodPost && cmd == "timeouts":
		h.writeValue(w, "", nil)
	default:
		h.writeError(w, http.StatusNotFound, "unknown command", method+" "+cmd)
	}
}

func (h *Hub) writeValue(w http.ResponseWriter, sessionID string, value interface{}) {
	reply := map[string]interface{}{"value": value}
	if h.opts.Legacy {
		reply["status"] = 0
		if sessionID != "" {
			reply["sessionId"] = sessionID
		}
	}
	writeJSON(w, http.StatusOK, reply)
}

// legacyCodes maps W3C error names to JSON wire status codes.
var legacyCodes = map[string]int{
	"invalid session id":  6,
	"unknown command":     9,
	"unknown error":       13,
	"session not created": 33,
	"invalid argument":    13,
}

func (h *Hub) writeError(w http.ResponseWriter, code int, name, message string) {
	if h.opts.Legacy {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": legacyCodes[name],
			"value":  map[string]string{"message": message},
		})
		return
	}
	writeJSON(w, code, map[string]interface{}{
		"value": map[string]string{
			"error":      name,
			"message":    message,
			"stacktrace": "",
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
