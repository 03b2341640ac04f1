// Package smoke implements a one-shot smoke check against a Selenium hub:
// wait for the hub to come up, open a browser session, load the game page,
// print its title and quit the session.
//
// The run is strictly linear and fails fast. Unless Config.ReleaseOnFailure
// is set, a session opened before a failing step is left for the hub to
// reap.
package smoke

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/glog"

	selenium "github.com/wanmail/hubcheck"
)

// WarmupDelay is how long Run waits before its first network call, giving
// the hub container time to start.
const WarmupDelay = 15 * time.Second

// Stage is a step of the smoke check. Stages are reached in declaration
// order.
type Stage int

// The stages of a run.
const (
	Idle Stage = iota
	WaitedWarmup
	ConfigRead
	SessionOpen
	Navigated
	TitleRead
	Closed
)

var stageNames = [...]string{
	Idle:         "idle",
	WaitedWarmup: "waited-warmup",
	ConfigRead:   "config-read",
	SessionOpen:  "session-open",
	Navigated:    "navigated",
	TitleRead:    "title-read",
	Closed:       "closed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// StageError reports the stage a run failed to reach.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("smoke check failed before %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// DialFunc opens a remote WebDriver session. selenium.NewRemote is the
// production implementation.
type DialFunc func(caps selenium.Capabilities, urlPrefix string) (selenium.WebDriver, error)

// Check runs the smoke check. The zero value is not usable; use New.
type Check struct {
	// Load reads the configuration. It is called after the warm-up delay.
	Load func() (Config, error)
	// Dial opens the remote session.
	Dial DialFunc
	// Sleep waits for the warm-up delay.
	Sleep func(time.Duration)
	// Out receives the three diagnostic lines.
	Out io.Writer

	stage Stage
}

// New returns a Check that reads its configuration with load, dials real
// hubs, sleeps on the wall clock and prints to standard output.
func New(load func() (Config, error)) *Check {
	return &Check{
		Load:  load,
		Dial:  selenium.NewRemote,
		Sleep: time.Sleep,
		Out:   os.Stdout,
	}
}

// Stage returns the last stage the run reached.
func (c *Check) Stage() Stage {
	return c.stage
}

// Run performs the check and returns the page title. Any failure aborts the
// run and is returned as a *StageError.
func (c *Check) Run() (string, error) {
	c.stage = Idle
	glog.Infof("Waiting %v for the hub to start", WarmupDelay)
	c.Sleep(WarmupDelay)
	c.stage = WaitedWarmup

	cfg, err := c.Load()
	if err != nil {
		return "", c.fail(ConfigRead, err)
	}
	if cfg.Strict {
		if err := cfg.Validate(); err != nil {
			return "", c.fail(ConfigRead, err)
		}
	}
	c.stage = ConfigRead
	fmt.Fprintln(c.Out, cfg.HubHost, cfg.GameHost)

	if cfg.HubProxy != "" {
		client, err := selenium.NewHTTPClient(cfg.HubProxy)
		if err != nil {
			return "", c.fail(SessionOpen, err)
		}
		// The proxy only applies to this run.
		defer selenium.SetHTTPClient(selenium.HTTPClient())
		selenium.SetHTTPClient(client)
	}
	caps := cfg.Capabilities()
	hubURL := cfg.HubURL()
	glog.Infof("Opening %s session on %s", caps.BrowserName(), hubURL)
	wd, err := c.Dial(caps, hubURL)
	if err != nil {
		return "", c.fail(SessionOpen, err)
	}
	c.stage = SessionOpen
	glog.V(1).Infof("Session %s opened, browser version %s", wd.SessionID(), wd.BrowserVersion())
	fmt.Fprintln(c.Out, cfg.HubHost)

	if cfg.PageLoadTimeout > 0 {
		if err := wd.SetPageLoadTimeout(cfg.PageLoadTimeout); err != nil {
			return "", c.abort(wd, cfg, Navigated, err)
		}
	}
	gameURL := cfg.GameURL()
	glog.Infof("Navigating to %s", gameURL)
	if err := wd.Get(gameURL); err != nil {
		return "", c.abort(wd, cfg, Navigated, err)
	}
	c.stage = Navigated

	title, err := wd.Title()
	if err != nil {
		return "", c.abort(wd, cfg, TitleRead, err)
	}
	c.stage = TitleRead
	fmt.Fprintln(c.Out, title)

	if err := wd.Quit(); err != nil {
		return title, c.fail(Closed, err)
	}
	c.stage = Closed
	return title, nil
}

func (c *Check) fail(stage Stage, err error) error {
	glog.V(1).Infof("Run stopped at %s: %v", c.stage, err)
	return &StageError{Stage: stage, Err: err}
}

// abort fails the run after a session was opened, quitting it first when the
// configuration asks for it.
func (c *Check) abort(wd selenium.WebDriver, cfg Config, stage Stage, err error) error {
	if cfg.ReleaseOnFailure {
		if qerr := wd.Quit(); qerr != nil {
			glog.Warningf("Unable to quit session %s: %v", wd.SessionID(), qerr)
		}
	}
	return c.fail(stage, err)
}
