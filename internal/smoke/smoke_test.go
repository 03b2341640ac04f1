package smoke

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/blang/semver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	selenium "github.com/wanmail/hubcheck"
	"github.com/wanmail/hubcheck/internal/hubtest"
)

// recorder collects the calls a Check makes, in order.
type recorder struct {
	events []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

type fakeDriver struct {
	rec   *recorder
	id    string
	title string

	timeoutErr, getErr, titleErr, quitErr error
}

func (d *fakeDriver) Status() (*selenium.Status, error) {
	d.rec.add("status")
	return &selenium.Status{Ready: true}, nil
}

func (d *fakeDriver) NewSession() (string, error) {
	d.rec.add("new session")
	return d.id, nil
}

func (d *fakeDriver) SessionID() string { return d.id }

func (d *fakeDriver) Capabilities() (selenium.Capabilities, error) {
	return selenium.Capabilities{"browserName": "firefox"}, nil
}

func (d *fakeDriver) BrowserVersion() semver.Version { return semver.MustParse("115.0.0") }

func (d *fakeDriver) SetPageLoadTimeout(timeout time.Duration) error {
	d.rec.add("page load timeout %v", timeout)
	return d.timeoutErr
}

func (d *fakeDriver) Quit() error {
	d.rec.add("quit")
	return d.quitErr
}

func (d *fakeDriver) Get(url string) error {
	d.rec.add("get %s", url)
	return d.getErr
}

func (d *fakeDriver) CurrentURL() (string, error) { return "", nil }

func (d *fakeDriver) Title() (string, error) {
	d.rec.add("title")
	return d.title, d.titleErr
}

func (d *fakeDriver) PageSource() (string, error) { return "", nil }

// newFakeCheck returns a Check wired to a fake driver. Dial fails with
// dialErr when it is set.
func newFakeCheck(cfg Config, d *fakeDriver, dialErr error) (*Check, *recorder, *bytes.Buffer) {
	rec := new(recorder)
	d.rec = rec
	out := new(bytes.Buffer)
	c := &Check{
		Load: func() (Config, error) {
			rec.add("load")
			return cfg, nil
		},
		Dial: func(caps selenium.Capabilities, urlPrefix string) (selenium.WebDriver, error) {
			rec.add("dial %s %s", caps.BrowserName(), urlPrefix)
			if dialErr != nil {
				return nil, dialErr
			}
			return d, nil
		},
		Sleep: func(delay time.Duration) { rec.add("sleep %v", delay) },
		Out:   out,
	}
	return c, rec, out
}

func hostsConfig(hub, game string) Config {
	cfg := DefaultConfig()
	cfg.HubHost = hub
	cfg.GameHost = game
	return cfg
}

func TestRunHappyPath(t *testing.T) {
	d := &fakeDriver{id: "s1", title: "Example"}
	c, rec, out := newFakeCheck(hostsConfig("hub", "game"), d, nil)

	title, err := c.Run()
	require.NoError(t, err)
	assert.Equal(t, "Example", title)
	assert.Equal(t, "hub game\nhub\nExample\n", out.String())
	assert.Equal(t, Closed, c.Stage())
	assert.Equal(t, []string{
		"sleep 15s",
		"load",
		"dial firefox http://hub:4444/wd/hub",
		"get http://game/",
		"title",
		"quit",
	}, rec.events)
}

func TestRunWarmupPrecedesNetwork(t *testing.T) {
	for _, cfg := range []Config{
		hostsConfig("hub", "game"),
		hostsConfig("", ""),
		{},
	} {
		c, rec, _ := newFakeCheck(cfg, &fakeDriver{}, errors.New("refused"))
		c.Run()
		require.NotEmpty(t, rec.events)
		assert.Equal(t, "sleep "+WarmupDelay.String(), rec.events[0], "config %+v", cfg)
		assert.Equal(t, 15*time.Second, WarmupDelay)
	}
}

func TestRunLoadError(t *testing.T) {
	c, rec, out := newFakeCheck(Config{}, &fakeDriver{}, nil)
	loadErr := errors.New("parsing HUB_PORT")
	c.Load = func() (Config, error) { return Config{}, loadErr }

	_, err := c.Run()
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ConfigRead, se.Stage)
	assert.ErrorIs(t, err, loadErr)
	assert.Equal(t, WaitedWarmup, c.Stage())
	assert.Empty(t, out.String())
	assert.Equal(t, []string{"sleep 15s"}, rec.events)
}

func TestRunStrictMissingHosts(t *testing.T) {
	for _, tc := range []struct {
		hub, game string
		want      error
	}{
		{"", "game", ErrMissingHubHost},
		{"hub", "", ErrMissingGameHost},
	} {
		cfg := hostsConfig(tc.hub, tc.game)
		cfg.Strict = true
		c, rec, out := newFakeCheck(cfg, &fakeDriver{}, nil)

		_, err := c.Run()
		require.ErrorIs(t, err, tc.want)
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ConfigRead, se.Stage)
		assert.Empty(t, out.String())
		assert.Equal(t, []string{"sleep 15s", "load"}, rec.events)
	}
}

func TestRunDialFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	c, rec, out := newFakeCheck(hostsConfig("hub", "game"), &fakeDriver{}, dialErr)

	_, err := c.Run()
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SessionOpen, se.Stage)
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, ConfigRead, c.Stage())
	assert.Equal(t, "hub game\n", out.String())
	assert.Equal(t, []string{"sleep 15s", "load", "dial firefox http://hub:4444/wd/hub"}, rec.events)
}

func TestRunNavigationFailureKeepsSession(t *testing.T) {
	getErr := errors.New("unknown error: Reached error page")
	d := &fakeDriver{id: "s1", getErr: getErr}
	c, rec, out := newFakeCheck(hostsConfig("hub", "game"), d, nil)

	_, err := c.Run()
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Navigated, se.Stage)
	assert.Equal(t, SessionOpen, c.Stage())
	assert.Equal(t, "hub game\nhub\n", out.String())
	assert.NotContains(t, rec.events, "quit")
	assert.NotContains(t, rec.events, "title")
}

func TestRunReleaseOnFailure(t *testing.T) {
	cfg := hostsConfig("hub", "game")
	cfg.ReleaseOnFailure = true
	titleErr := errors.New("no such window")
	d := &fakeDriver{id: "s1", titleErr: titleErr, quitErr: errors.New("gone")}
	c, rec, out := newFakeCheck(cfg, d, nil)

	_, err := c.Run()
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, TitleRead, se.Stage)
	// The quit failure is logged, the title failure is what the run reports.
	assert.ErrorIs(t, err, titleErr)
	assert.Equal(t, "hub game\nhub\n", out.String())
	assert.Equal(t, "quit", rec.events[len(rec.events)-1])
}

func TestRunQuitFailure(t *testing.T) {
	quitErr := errors.New("invalid session id")
	d := &fakeDriver{id: "s1", title: "Example", quitErr: quitErr}
	c, _, out := newFakeCheck(hostsConfig("hub", "game"), d, nil)

	title, err := c.Run()
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Closed, se.Stage)
	assert.Equal(t, TitleRead, c.Stage())
	assert.Equal(t, "Example", title)
	assert.Equal(t, "hub game\nhub\nExample\n", out.String())
}

func TestRunPageLoadTimeout(t *testing.T) {
	cfg := hostsConfig("hub", "game")
	cfg.PageLoadTimeout = 30 * time.Second
	d := &fakeDriver{id: "s1", title: "Example"}
	c, rec, _ := newFakeCheck(cfg, d, nil)

	_, err := c.Run()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"sleep 15s",
		"load",
		"dial firefox http://hub:4444/wd/hub",
		"page load timeout 30s",
		"get http://game/",
		"title",
		"quit",
	}, rec.events)
}

func TestRunInvalidProxy(t *testing.T) {
	cfg := hostsConfig("hub", "game")
	cfg.HubProxy = "ftp://proxy:21"
	c, rec, _ := newFakeCheck(cfg, &fakeDriver{}, nil)

	_, err := c.Run()
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SessionOpen, se.Stage)
	assert.Equal(t, []string{"sleep 15s", "load"}, rec.events)
}

// newHubCheck returns a Check that dials real hubs without sleeping.
func newHubCheck(cfg Config) (*Check, *bytes.Buffer) {
	out := new(bytes.Buffer)
	c := New(func() (Config, error) { return cfg, nil })
	c.Sleep = func(time.Duration) {}
	c.Out = out
	return c, out
}

func hubConfig(h *hubtest.Hub, game string) Config {
	cfg := hostsConfig(h.Host(), game)
	cfg.HubPort = h.Port()
	return cfg
}

func TestRunAgainstHub(t *testing.T) {
	h := hubtest.New(hubtest.Options{BrowserVersion: "115.0"})
	defer h.Close()

	c, out := newHubCheck(hubConfig(h, "game"))
	title, err := c.Run()
	require.NoError(t, err)
	assert.Equal(t, hubtest.DefaultTitle, title)

	host := h.Host()
	assert.Equal(t, host+" game\n"+host+"\n"+hubtest.DefaultTitle+"\n", out.String())
	assert.Equal(t, []string{
		"POST /session",
		"POST /session/{id}/url",
		"GET /session/{id}/title",
		"DELETE /session/{id}",
	}, h.Commands())
	assert.Equal(t, "http://game/", h.Requests()[1].Body["url"])
	assert.Empty(t, h.LiveSessions())
}

func TestRunMissingHubHost(t *testing.T) {
	cfg, err := LoadConfig(func(key string) string {
		if key == EnvGameHost {
			return "game"
		}
		return ""
	})
	require.NoError(t, err)
	require.Equal(t, "http://:4444/wd/hub", cfg.HubURL())

	c, out := newHubCheck(cfg)
	_, err = c.Run()
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SessionOpen, se.Stage)
	assert.Contains(t, err.Error(), "missing host")
	assert.Equal(t, " game\n", out.String())
}

func TestRunUnreachableHub(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := hostsConfig("127.0.0.1", "game")
	cfg.HubPort = port
	c, out := newHubCheck(cfg)

	_, err = c.Run()
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SessionOpen, se.Stage)
	var opErr *net.OpError
	assert.ErrorAs(t, err, &opErr)
	assert.Equal(t, "127.0.0.1 game\n", out.String())
}

func TestRunNavigationFailureAgainstHub(t *testing.T) {
	const message = "Reached error page: about:neterror?e=connectionFailure"
	for _, release := range []bool{false, true} {
		t.Run(fmt.Sprintf("release=%t", release), func(t *testing.T) {
			h := hubtest.New(hubtest.Options{NavigationError: message})
			defer h.Close()

			cfg := hubConfig(h, "game")
			cfg.ReleaseOnFailure = release
			c, out := newHubCheck(cfg)

			_, err := c.Run()
			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, Navigated, se.Stage)
			var we *selenium.Error
			require.ErrorAs(t, err, &we)
			assert.Equal(t, "unknown error", we.Err)
			assert.Equal(t, message, we.Message)

			lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
			assert.Len(t, lines, 2)
			assert.NotContains(t, h.Commands(), "GET /session/{id}/title")
			if release {
				assert.Empty(t, h.LiveSessions())
			} else {
				assert.Len(t, h.LiveSessions(), 1)
			}
		})
	}
}

func TestRunSessionRejected(t *testing.T) {
	h := hubtest.New(hubtest.Options{RejectSession: "No nodes support the capabilities in the request"})
	defer h.Close()

	c, out := newHubCheck(hubConfig(h, "game"))
	_, err := c.Run()
	var we *selenium.Error
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "session not created", we.Err)
	assert.Equal(t, []string{"POST /session"}, h.Commands())
	assert.Equal(t, h.Host()+" game\n", out.String())
}

func TestStageString(t *testing.T) {
	for stage, want := range map[Stage]string{
		Idle:         "idle",
		WaitedWarmup: "waited-warmup",
		ConfigRead:   "config-read",
		SessionOpen:  "session-open",
		Navigated:    "navigated",
		TitleRead:    "title-read",
		Closed:       "closed",
		Stage(42):    "stage(42)",
		Stage(-1):    "stage(-1)",
	} {
		assert.Equal(t, want, stage.String())
	}
}

func TestStageError(t *testing.T) {
	inner := errors.New("boom")
	err := &StageError{Stage: Navigated, Err: inner}
	assert.Equal(t, "smoke check failed before navigated: boom", err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestRunProxyOnlyAppliesToItsRun(t *testing.T) {
	h := hubtest.New(hubtest.Options{})
	defer h.Close()
	before := selenium.HTTPClient()

	direct := hubConfig(h, "game")
	proxied := direct
	proxied.HubProxy = "socks5://127.0.0.1:1"

	c, out := newHubCheck(proxied)
	_, err := c.Run()
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SessionOpen, se.Stage)
	assert.Empty(t, h.Commands())
	assert.Same(t, before, selenium.HTTPClient())

	c.Load = func() (Config, error) { return direct, nil }
	out.Reset()
	title, err := c.Run()
	require.NoError(t, err)
	assert.Equal(t, hubtest.DefaultTitle, title)
	assert.Empty(t, h.LiveSessions())
}
