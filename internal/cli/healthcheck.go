// Package cli implements the small operational subcommands every
// LockerGrid process binary exposes alongside its default "serve"
// behavior: a local health probe suitable for a container HEALTHCHECK
// directive, and configuration document validation/dump.
package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// RunHealthcheck probes the given process's local /health endpoint and
// returns a process exit code: 0 if healthy, 1 otherwise.
func RunHealthcheck(args []string, name string, defaultPort int) int {
	fs := flag.NewFlagSet(name+" healthcheck", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() { printHealthcheckUsage(fs.Output(), name, defaultPort) }

	port := fs.Int("port", defaultPort, "local API port to check")
	timeout := fs.Duration("timeout", 5*time.Second, "check timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	client := http.Client{Timeout: *timeout}
	url := fmt.Sprintf("http://127.0.0.1:%d/health", *port)
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed (network): %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK || body.Status == "unhealthy" {
		fmt.Fprintf(os.Stderr, "healthcheck failed: status=%d body_status=%q\n", resp.StatusCode, body.Status)
		return 1
	}
	fmt.Printf("healthcheck ok (status=%s)\n", body.Status)
	return 0
}

func printHealthcheckUsage(w io.Writer, name string, defaultPort int) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s healthcheck [--port=%d] [--timeout=5s]\n", name, defaultPort)
}
