// Package cli defines the hubcheck command: flag and environment binding,
// logging setup and exit status.
package cli

import (
	goflag "flag"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wanmail/hubcheck/internal/smoke"
)

// Defaults contains the values used when neither a flag nor the environment
// sets a key.
var Defaults = map[string]any{
	"hub_port": smoke.DefaultHubPort,
	"hub_path": smoke.DefaultHubPath,
	"browser":  smoke.DefaultBrowser,
}

// setting is one configuration key with its flag and environment variable.
type setting struct {
	key, flag, env, usage string
}

var settings = []setting{
	{"hub_host", "hub-host", smoke.EnvHubHost, "Host name or IP of the Selenium hub"},
	{"game_host", "game-host", smoke.EnvGameHost, "Host (and optional port) serving the game page"},
	{"hub_port", "hub-port", smoke.EnvHubPort, "Port of the Selenium hub"},
	{"hub_path", "hub-path", smoke.EnvHubPath, "Path of the WebDriver endpoint on the hub"},
	{"hub_proxy", "hub-proxy", smoke.EnvHubProxy, "Proxy URL (http, https or socks5) used to reach the hub"},
	{"browser", "browser", smoke.EnvBrowser, "Browser to request from the hub"},
	{"firefox_args", "firefox-args", smoke.EnvFirefoxArgs, "Space-separated arguments passed to Firefox"},
	{"firefox_log_level", "firefox-log-level", smoke.EnvFirefoxLogLevel, "Gecko log level (trace, debug, config, info, warn, error, fatal)"},
	{"page_load_timeout", "page-load-timeout", smoke.EnvPageLoadTimeout, "Page load timeout set on the session; 0 keeps the hub's default"},
	{"strict", "strict", smoke.EnvStrict, "Fail before any network call when a host is missing"},
	{"release_on_failure", "release-on-failure", smoke.EnvReleaseOnFailure, "Quit the session when a later step fails"},
}

// options carries the hooks tests replace.
type options struct {
	sleep func(time.Duration)
	dial  smoke.DialFunc
}

// NewRootCmd returns the hubcheck command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(options{})
}

func newRootCmd(opts options) *cobra.Command {
	v := viper.New()
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}

	cmd := &cobra.Command{
		Use:   "hubcheck",
		Short: "Open the game page through a Selenium hub and print its title",
		Long: `hubcheck waits 15 seconds for the Selenium hub to start, opens a Firefox
session on http://$HUB_HOST:4444/wd/hub, loads http://$GAME_HOST/, prints the
page title and quits the session.

Every flag can also be set through the environment variable named in its
description. Flags take precedence.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// glog reads its flags from the standard flag set, which cobra
			// has already filled in; mark it parsed.
			return goflag.CommandLine.Parse(nil)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			check := smoke.New(func() (smoke.Config, error) {
				var cfg smoke.Config
				if err := v.Unmarshal(&cfg); err != nil {
					return cfg, fmt.Errorf("config: %w", err)
				}
				return cfg, nil
			})
			check.Out = cmd.OutOrStdout()
			if opts.sleep != nil {
				check.Sleep = opts.sleep
			}
			if opts.dial != nil {
				check.Dial = opts.dial
			}
			_, err := check.Run()
			return err
		},
	}

	flags := cmd.Flags()
	addFlags(flags, settings)
	cobra.CheckErr(bindSettings(v, flags, settings))
	flags.AddGoFlagSet(goflag.CommandLine)
	hideGlogFlags(flags)

	return cmd
}

func addFlags(flags *pflag.FlagSet, settings []setting) {
	for _, s := range settings {
		usage := fmt.Sprintf("%s (env %s)", s.usage, s.env)
		switch s.key {
		case "hub_port":
			flags.Int(s.flag, smoke.DefaultHubPort, usage)
		case "page_load_timeout":
			flags.Duration(s.flag, 0, usage)
		case "strict", "release_on_failure":
			flags.Bool(s.flag, false, usage)
		default:
			flags.String(s.flag, "", usage)
		}
	}
}

// bindSettings binds every key to its environment variable and to its flag
// in flags.
func bindSettings(v *viper.Viper, flags *pflag.FlagSet, settings []setting) error {
	for _, s := range settings {
		if err := v.BindEnv(s.key, s.env); err != nil {
			return fmt.Errorf("binding %s to %s: %w", s.key, s.env, err)
		}
		if err := v.BindPFlag(s.key, flags.Lookup(s.flag)); err != nil {
			return fmt.Errorf("binding %s to --%s: %w", s.key, s.flag, err)
		}
	}
	return nil
}

// hideGlogFlags keeps glog's flags usable but out of the help text, except
// for -v.
func hideGlogFlags(flags *pflag.FlagSet) {
	goflag.CommandLine.VisitAll(func(f *goflag.Flag) {
		if f.Name == "v" {
			return
		}
		if pf := flags.Lookup(f.Name); pf != nil {
			pf.Hidden = true
		}
	})
}

// Execute runs the command. Any failure is logged and the process exits
// with status 1.
func Execute() {
	goflag.Set("logtostderr", "true")
	if err := NewRootCmd().Execute(); err != nil {
		glog.Exitf("hubcheck: %v", err)
	}
	glog.Flush()
}
