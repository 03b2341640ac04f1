// Remote Selenium client implementation.
// See https://www.w3.org/TR/webdriver for the protocol.

package selenium

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/golang/glog"
)

// Errors returned by Selenium servers speaking the legacy JSON wire protocol.
var remoteErrors = map[int]string{
	6:  "invalid session id",
	7:  "no such element",
	8:  "no such frame",
	9:  "unknown command",
	10: "stale element reference",
	11: "element not visible",
	12: "invalid element state",
	13: "unknown error",
	15: "element is not selectable",
	17: "javascript error",
	19: "xpath lookup error",
	21: "timeout",
	23: "no such window",
	24: "invalid cookie domain",
	25: "unable to set cookie",
	26: "unexpected alert open",
	27: "no alert open",
	28: "script timeout",
	29: "invalid element coordinates",
	32: "invalid selector",
	33: "session not created",
}

const (
	// Success is status code that indicates the method was successful.
	Success = 0
	// DefaultURLPrefix is the default HTTP endpoint that offers the WebDriver
	// API.
	DefaultURLPrefix = "http://127.0.0.1:4444/wd/hub"
	// JSONType is JSON content type.
	JSONType = "application/json"
	// MaxRedirects is the maximum number of redirects to follow.
	MaxRedirects = 10
)

// Error contains information about a failure of a command. See the table of
// these strings at https://www.w3.org/TR/webdriver/#handling-errors .
//
// This error type is only returned by servers that reply with a well-formed
// error body. Transport failures are returned as they come from net/http.
type Error struct {
	// Err contains a general error string provided by the server.
	Err string `json:"error"`
	// Message is a detailed, human-readable message specific to the failure.
	Message string `json:"message"`
	// Stacktrace may contain the server-side stacktrace where the error occurred.
	Stacktrace string `json:"stacktrace"`
	// HTTPCode is the HTTP status code returned by the server.
	HTTPCode int `json:"-"`
	// LegacyCode is the "Response Status Code" defined in the legacy JSON wire
	// protocol. It is zero for W3C servers.
	LegacyCode int `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Err
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Message)
}

type remoteWD struct {
	id, urlPrefix  string
	capabilities   Capabilities
	sessionCaps    Capabilities
	w3cCompatible  bool
	browserVersion semver.Version
}

var httpClient *http.Client

// HTTPClient returns the HTTP client used for all WebDriver commands.
func HTTPClient() *http.Client {
	return httpClient
}

// SetHTTPClient replaces the HTTP client used for all WebDriver commands. A
// nil client restores the default one.
func SetHTTPClient(c *http.Client) {
	if c == nil {
		c = newHTTPClient(nil)
	}
	httpClient = c
}

// NewHTTPClient returns a client suitable for SetHTTPClient that reaches the
// WebDriver server through the given proxy. The proxy URL scheme may be http,
// https or socks5. An empty proxy keeps the proxy settings of the
// environment.
func NewHTTPClient(proxy string) (*http.Client, error) {
	if proxy == "" {
		return newHTTPClient(nil), nil
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", proxy, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("invalid proxy URL %q: unsupported scheme %q", proxy, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy URL %q: missing host", proxy)
	}
	return newHTTPClient(u), nil
}

func newHTTPClient(proxy *url.URL) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	}
	// http.Client doesn't copy request headers, and selenium requires that
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > MaxRedirects {
				return fmt.Errorf("too many redirects (%d)", len(via))
			}

			req.Header.Add("Accept", JSONType)
			return nil
		},
	}
}

func isMimeType(response *http.Response, mtype string) bool {
	if ctype, ok := response.Header["Content-Type"]; ok {
		return strings.HasPrefix(ctype[0], mtype)
	}
	return false
}

func newRequest(method string, url string, data []byte) (*http.Request, error) {
	request, err := http.NewRequest(method, url, bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	request.Header.Add("Accept", JSONType)
	if data != nil {
		request.Header.Add("Content-Type", JSONType+";charset=utf-8")
	}

	return request, nil
}

func cleanNils(buf []byte) {
	for i, b := range buf {
		if b == 0 {
			buf[i] = ' '
		}
	}
}

// validateURLPrefix rejects prefixes that net/http would otherwise quietly
// resolve, e.g. "http://:4444/wd/hub" dialing the local host.
func validateURLPrefix(prefix string) error {
	u, err := url.Parse(prefix)
	if err != nil {
		return fmt.Errorf("invalid WebDriver URL %q: %w", prefix, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid WebDriver URL %q: scheme must be http or https", prefix)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("invalid WebDriver URL %q: missing host", prefix)
	}
	return nil
}

func (wd *remoteWD) requestURL(template string, args ...interface{}) string {
	return wd.urlPrefix + fmt.Sprintf(template, args...)
}

type serverReply struct {
	SessionID *string // SessionID can be nil.
	Value     json.RawMessage

	// The following fields are used by the legacy JSON wire protocol.
	Status int
	State  string
}

func decodeError(httpCode int, reply *serverReply) error {
	e := new(Error)
	if len(reply.Value) > 0 {
		// The value may also be a bare string or null; only objects carry
		// the W3C error fields.
		json.Unmarshal(reply.Value, e)
	}
	e.HTTPCode = httpCode
	e.LegacyCode = reply.Status
	if e.Err == "" {
		name, ok := remoteErrors[reply.Status]
		if !ok {
			name = fmt.Sprintf("unknown error - %d", reply.Status)
		}
		e.Err = name
	}
	return e
}

func (wd *remoteWD) execute(method, url string, data []byte) ([]byte, error) {
	debugLog("-> %s %s\n%s", method, url, data)
	request, err := newRequest(method, url, data)
	if err != nil {
		return nil, err
	}

	response, err := httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	buf, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading reply: %w", response.Status, err)
	}
	debugLog("<- %s [%s]\n%s", response.Status, response.Header["Content-Type"], buf)

	cleanNils(buf)
	if response.StatusCode >= 400 {
		reply := new(serverReply)
		if err := json.Unmarshal(buf, reply); err != nil {
			return nil, fmt.Errorf("bad server reply status: %s", response.Status)
		}
		return nil, decodeError(response.StatusCode, reply)
	}

	// Some bug(?) in Selenium gets us nil values in output, json.Unmarshal is
	// not happy about that.
	if isMimeType(response, JSONType) {
		reply := new(serverReply)
		if err := json.Unmarshal(buf, reply); err != nil {
			return nil, err
		}

		if reply.Status != Success {
			return nil, decodeError(response.StatusCode, reply)
		}

		return buf, nil
	}

	// Nothing was returned, this is OK for some commands.
	return buf, nil
}

// NewRemote creates new remote client, this will also start a new session.
// capabilities provides the desired capabilities. urlPrefix is the URL to the
// Selenium server, must be prefixed with protocol (http, https, ...).
//
// Providing an empty string for urlPrefix causes the DefaultURLPrefix to be
// used.
func NewRemote(capabilities Capabilities, urlPrefix string) (WebDriver, error) {
	if urlPrefix == "" {
		urlPrefix = DefaultURLPrefix
	}
	if err := validateURLPrefix(urlPrefix); err != nil {
		return nil, err
	}
	if capabilities == nil {
		capabilities = Capabilities{}
	}

	wd := &remoteWD{
		urlPrefix:    strings.TrimSuffix(urlPrefix, "/"),
		capabilities: capabilities,
	}
	if _, err := wd.NewSession(); err != nil {
		return nil, err
	}
	return wd, nil
}

func (wd *remoteWD) stringCommand(urlTemplate string) (string, error) {
	url := wd.requestURL(urlTemplate, wd.id)
	response, err := wd.execute("GET", url, nil)
	if err != nil {
		return "", err
	}

	reply := new(struct{ Value *string })
	if err := json.Unmarshal(response, reply); err != nil {
		return "", err
	}

	if reply.Value == nil {
		return "", fmt.Errorf("nil return value")
	}

	return *reply.Value, nil
}

func (wd *remoteWD) voidCommand(urlTemplate string, params interface{}) error {
	data := []byte("{}")
	if params != nil {
		var err error
		data, err = json.Marshal(params)
		if err != nil {
			return err
		}
	}
	_, err := wd.execute("POST", wd.requestURL(urlTemplate, wd.id), data)
	return err
}

func (wd *remoteWD) Status() (*Status, error) {
	url := wd.requestURL("/status")
	reply, err := wd.execute("GET", url, nil)
	if err != nil {
		return nil, err
	}

	status := new(struct{ Value Status })
	if err := json.Unmarshal(reply, status); err != nil {
		return nil, err
	}

	return &status.Value, nil
}

// w3cCapabilityKeys are the capability names allowed in a W3C capabilities
// object. Vendor extensions are recognised by the colon in their name.
var w3cCapabilityKeys = map[string]bool{
	"browserName":               true,
	"browserVersion":            true,
	"platformName":              true,
	"acceptInsecureCerts":       true,
	"pageLoadStrategy":          true,
	"proxy":                     true,
	"setWindowRect":             true,
	"timeouts":                  true,
	"strictFileInteractability": true,
	"unhandledPromptBehavior":   true,
}

// newW3CCapabilities returns the subset of caps that a W3C remote end
// accepts in "alwaysMatch".
func newW3CCapabilities(caps Capabilities) Capabilities {
	alwaysMatch := make(Capabilities)
	for name, value := range caps {
		if w3cCapabilityKeys[name] || strings.Contains(name, ":") {
			alwaysMatch[name] = value
		}
	}
	return alwaysMatch
}

func (wd *remoteWD) NewSession() (string, error) {
	message := map[string]interface{}{
		"desiredCapabilities": wd.capabilities,
		"capabilities": map[string]interface{}{
			"alwaysMatch": newW3CCapabilities(wd.capabilities),
		},
	}
	data, err := json.Marshal(message)
	if err != nil {
		return "", err
	}

	response, err := wd.execute("POST", wd.requestURL("/session"), data)
	if err != nil {
		return "", err
	}

	reply := new(serverReply)
	if err := json.Unmarshal(response, reply); err != nil {
		return "", err
	}

	var caps Capabilities
	switch {
	case reply.SessionID != nil && *reply.SessionID != "":
		// Legacy JSON wire reply: the value holds the capabilities.
		wd.id = *reply.SessionID
		if len(reply.Value) > 0 {
			if err := json.Unmarshal(reply.Value, &caps); err != nil {
				return "", fmt.Errorf("decoding session capabilities: %w", err)
			}
		}
	default:
		value := new(struct {
			SessionID    string
			Capabilities Capabilities
		})
		if len(reply.Value) > 0 {
			if err := json.Unmarshal(reply.Value, value); err != nil {
				return "", fmt.Errorf("decoding new session reply: %w", err)
			}
		}
		if value.SessionID == "" {
			return "", errors.New("new session reply carried no session ID")
		}
		wd.id = value.SessionID
		wd.w3cCompatible = true
		caps = value.Capabilities
	}
	wd.sessionCaps = caps
	wd.browserVersion = parseBrowserVersion(caps)

	return wd.id, nil
}

// parseBrowserVersion reads "browserVersion" (W3C) or "version" (legacy)
// from the session capabilities.
func parseBrowserVersion(caps Capabilities) semver.Version {
	for _, key := range []string{"browserVersion", "version"} {
		raw, ok := caps[key].(string)
		if !ok || raw == "" {
			continue
		}
		v, err := semver.ParseTolerant(raw)
		if err != nil {
			glog.V(1).Infof("Unable to parse browser version %q: %v", raw, err)
			return semver.Version{}
		}
		return v
	}
	return semver.Version{}
}

// SessionID returns the current session ID
func (wd *remoteWD) SessionID() string {
	return wd.id
}

func (wd *remoteWD) Capabilities() (Capabilities, error) {
	// W3C remote ends have no endpoint for this; the capabilities are
	// returned once, on session creation.
	if wd.w3cCompatible {
		return wd.sessionCaps, nil
	}

	url := wd.requestURL("/session/%s", wd.id)
	response, err := wd.execute("GET", url, nil)
	if err != nil {
		return nil, err
	}

	c := new(struct{ Value Capabilities })
	if err := json.Unmarshal(response, c); err != nil {
		return nil, err
	}

	return c.Value, nil
}

func (wd *remoteWD) BrowserVersion() semver.Version {
	return wd.browserVersion
}

func (wd *remoteWD) SetPageLoadTimeout(timeout time.Duration) error {
	ms := uint(timeout / time.Millisecond)
	if wd.w3cCompatible {
		return wd.voidCommand("/session/%s/timeouts", map[string]uint{
			"pageLoad": ms,
		})
	}
	return wd.voidCommand("/session/%s/timeouts", map[string]interface{}{
		"ms":   ms,
		"type": "page load",
	})
}

func (wd *remoteWD) Quit() error {
	if wd.id == "" {
		return nil
	}
	_, err := wd.execute("DELETE", wd.requestURL("/session/%s", wd.id), nil)
	if err == nil {
		wd.id = ""
	}
	return err
}

func (wd *remoteWD) CurrentURL() (string, error) {
	return wd.stringCommand("/session/%s/url")
}

func (wd *remoteWD) Get(url string) error {
	return wd.voidCommand("/session/%s/url", map[string]string{
		"url": url,
	})
}

func (wd *remoteWD) Title() (string, error) {
	return wd.stringCommand("/session/%s/title")
}

func (wd *remoteWD) PageSource() (string, error) {
	return wd.stringCommand("/session/%s/source")
}

func init() {
	httpClient = newHTTPClient(nil)
}
