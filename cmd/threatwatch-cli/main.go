// Command threatwatch-cli queries a running threatwatch server.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

func main() {
	var (
		urlF      = flag.String("url", envOr("THREATWATCH_URL", "http://localhost:8080"), "Server base URL")
		userF     = flag.String("user", os.Getenv("THREATWATCH_USER"), "Username for HTTP Basic auth")
		passwordF = flag.String("password", os.Getenv("THREATWATCH_PASSWORD"), "Password for HTTP Basic auth")
		tokenF    = flag.String("token", os.Getenv("THREATWATCH_TOKEN"), "Bearer token (see the login command)")
		timeoutF  = flag.Duration("timeout", 60*time.Second, "Request timeout")
		jsonF     = flag.Bool("json", false, "Print the raw JSON response")
		verboseF  = flag.Bool("verbose", false, "Print request and response details")
	)
	flag.Usage = usage
	flag.Parse()

	c := newClient(*urlF, *timeoutF, *verboseF)
	switch {
	case *tokenF != "":
		c.http.SetAuthToken(*tokenF)
	case *userF != "":
		c.http.SetBasicAuth(*userF, *passwordF)
	}

	cmd, args := "threat", []string(nil)
	if flag.NArg() > 0 {
		cmd, args = flag.Arg(0), flag.Args()[1:]
	}
	if err := run(c, os.Stdout, cmd, args, *jsonF, *userF, *passwordF); err != nil {
		fmt.Fprintf(os.Stderr, "threatwatch-cli: %v\n", err)
		os.Exit(1)
	}
}

func run(c *client, w io.Writer, cmd string, args []string, raw bool, user, password string) error {
	switch cmd {
	case "threat":
		var ev evaluation
		body, err := c.get("/api/v1/threat", &ev)
		if err != nil {
			return err
		}
		if raw {
			return printRaw(w, body)
		}
		printThreat(w, ev)
	case "motion":
		var st motionStatus
		body, err := c.get("/api/v1/motion", &st)
		if err != nil {
			return err
		}
		if raw {
			return printRaw(w, body)
		}
		fmt.Fprintln(w, st.Message)
	case "sources":
		if len(args) > 0 {
			var res sourceResult
			body, err := c.get("/api/v1/sources/"+args[0], &res)
			if err != nil {
				return err
			}
			if raw {
				return printRaw(w, body)
			}
			printSource(w, res)
			return nil
		}
		var all []sourceResult
		body, err := c.get("/api/v1/sources", &all)
		if err != nil {
			return err
		}
		if raw {
			return printRaw(w, body)
		}
		for i, res := range all {
			if i > 0 {
				fmt.Fprintln(w)
			}
			printSource(w, res)
		}
	case "system":
		body, err := c.get("/api/v1/system", nil)
		if err != nil {
			return err
		}
		return printRaw(w, body)
	case "login":
		token, err := c.login(user, password)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, token)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func printThreat(w io.Writer, ev evaluation) {
	fmt.Fprintf(w, "Threat level: %s\n", ev.Threat.Level)
	for _, r := range ev.Threat.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	if len(ev.Threat.Degraded) > 0 {
		fmt.Fprintf(w, "Unavailable: %s\n", strings.Join(ev.Threat.Degraded, ", "))
	}
	fmt.Fprintf(w, "Motion: %s\n", ev.Motion.Message)
}

func printSource(w io.Writer, res sourceResult) {
	status := "clear"
	switch {
	case res.Failure != nil:
		status = "unavailable"
	case res.Severe:
		status = "SEVERE"
	}
	fmt.Fprintf(w, "[%s] %s\n", res.Domain, status)
	for _, line := range res.Summary {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func printRaw(w io.Writer, body []byte) error {
	_, err := fmt.Fprintln(w, string(body))
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s is a command line client for threatwatch.

Usage:
    %s [-url URL] [-user U -password P | -token T] [-json] COMMAND [ARGS]

Commands:
    threat            current threat level and reasons (default)
    motion            front door motion status
    sources [DOMAIN]  all signal sources, or one of traffic, weather,
                      earthquake, crime, hazard, geopolitical
    system            server status
    login             print a bearer token for -user/-password

Flags:
`, os.Args[0], os.Args[0])
	flag.PrintDefaults()
}
