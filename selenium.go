package selenium

import (
	"time"

	"github.com/blang/semver"

	"github.com/wanmail/hubcheck/firefox"
)

// Capabilities configures both the WebDriver process and the target browsers,
// with standard and browser-specific options.
type Capabilities map[string]interface{}

// BrowserName returns the "browserName" entry, or the empty string.
func (c Capabilities) BrowserName() string {
	name, _ := c["browserName"].(string)
	return name
}

// AddFirefox adds Firefox-specific capabilities.
func (c Capabilities) AddFirefox(f firefox.Capabilities) {
	c[firefox.CapabilitiesKey] = f
}

// Status contains information returned by the Status method.
type Status struct {
	// The following fields are used by Selenium and ChromeDriver.
	Java struct {
		Version string
	}
	Build struct {
		Version, Revision, Time string
	}
	OS struct {
		Arch, Name, Version string
	}

	// The following fields are specified by the W3C WebDriver specification and
	// are used by GeckoDriver and Selenium 4.
	Ready   bool
	Message string
}

// WebDriver defines the methods supported by a remote WebDriver session.
type WebDriver interface {
	// Status returns various pieces of information about the server environment.
	Status() (*Status, error)

	// NewSession starts a new session and returns the session ID.
	NewSession() (string, error)

	// SessionID returns the current session ID, or the empty string once the
	// session has been quit.
	SessionID() string

	// Capabilities returns the current session's capabilities.
	Capabilities() (Capabilities, error)

	// BrowserVersion returns the browser version reported when the session
	// was created. It is the zero version if the server did not report one.
	BrowserVersion() semver.Version

	// SetPageLoadTimeout sets the amount of time the driver should wait when
	// loading a page. The timeout will be rounded to nearest millisecond.
	SetPageLoadTimeout(timeout time.Duration) error

	// Quit ends the current session. The browser instance will be closed.
	Quit() error

	// Get navigates the browser to the provided URL and blocks until the
	// remote end reports the page as loaded.
	Get(url string) error
	// CurrentURL returns the browser's current URL.
	CurrentURL() (string, error)
	// Title returns the current page's title.
	Title() (string, error)
	// PageSource returns the current page's source.
	PageSource() (string, error)
}
