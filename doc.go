/*
Package selenium provides a small WebDriver client for remote Selenium hubs.

It speaks both the W3C WebDriver protocol and the legacy JSON wire protocol
of Selenium 2 servers, and covers what a page-level smoke check needs: open
a session, set the page load timeout, navigate, read the URL, title and
source, and quit.

You'll need a running hub, for example the selenium/hub and
selenium/node-firefox containers:

	docker run -d -p 4444:4444 selenium/standalone-firefox

Example usage:

	caps := selenium.Capabilities{"browserName": "firefox"}
	caps.AddFirefox(firefox.Capabilities{Args: []string{"-headless"}})
	wd, err := selenium.NewRemote(caps, "http://localhost:4444/wd/hub")
	if err != nil {
		log.Fatal(err)
	}
	defer wd.Quit()

	if err := wd.Get("http://example.com/"); err != nil {
		log.Fatal(err)
	}
	title, err := wd.Title()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(title)

Errors returned by the hub are of type *Error. Set -v=2 (or call SetDebug)
to log every request and reply.
*/
package selenium
