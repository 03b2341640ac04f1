// Binary hubcheck waits for a Selenium hub to start, opens the game page
// through it in Firefox and prints the page title.
//
// Usage:
//
//	HUB_HOST=selenium-hub GAME_HOST=game hubcheck
//
// Run hubcheck --help for the optional settings.
package main

import "github.com/wanmail/hubcheck/internal/cli"

func main() {
	cli.Execute()
}
