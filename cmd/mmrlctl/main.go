// Command mmrlctl is the operator CLI for a running mmrld. It talks to
// the daemon's HTTP API to show status, answer pending bind grants and
// read the audit history.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mmrl/internal/service"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
)

const version = "1.0.0"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "mmrlctl v%s - mmrld control interface\n\n", version)
	fmt.Fprintf(w, "Usage: mmrlctl [options] <command>\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  status        Show daemon status\n")
	fmt.Fprintf(w, "  grants        List clients waiting to bind\n")
	fmt.Fprintf(w, "  approve <id>  Let a waiting client bind\n")
	fmt.Fprintf(w, "  deny <id>     Refuse a waiting client\n")
	fmt.Fprintf(w, "  history       View the audit log\n\n")
	fmt.Fprintf(w, "Options:\n")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("mmrlctl", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	apiURL := fs.String("api", "http://127.0.0.1:8686", "mmrld API URL")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			usage(stdout, fs)
			return nil
		}
		return err
	}
	if fs.NArg() < 1 {
		usage(os.Stderr, fs)
		return errors.New("missing command")
	}

	client := &Client{baseURL: *apiURL, http: &http.Client{Timeout: 10 * time.Second}, out: stdout}

	switch cmd := fs.Arg(0); cmd {
	case "status":
		return client.Status()
	case "grants":
		return client.Grants()
	case "approve", "deny":
		if fs.NArg() < 2 {
			return fmt.Errorf("%s requires a grant ID", cmd)
		}
		if err := client.resolveGrant(fs.Arg(1), cmd); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		fmt.Fprintf(stdout, "Grant %s: %s\n", fs.Arg(1), cmd)
		return nil
	case "history":
		return client.History()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// Client is the HTTP client for the mmrld API.
type Client struct {
	baseURL string
	http    *http.Client
	out     io.Writer
}

func (c *Client) get(path string, v any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Status displays the daemon status.
func (c *Client) Status() error {
	var data struct {
		Status      string  `json:"status"`
		Platform    string  `json:"platform"`
		Backend     string  `json:"backend"`
		Pending     int     `json:"pending_count"`
		Connections int64   `json:"connections"`
		Calls       int64   `json:"calls"`
		Uptime      float64 `json:"uptime"`
	}
	if err := c.get("/api/status", &data); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Status: %s\n", data.Status)
	fmt.Fprintf(c.out, "Backend: %s (%s)\n", data.Backend, data.Platform)
	fmt.Fprintf(c.out, "Pending grants: %d\n", data.Pending)
	fmt.Fprintf(c.out, "Connections: %d\n", data.Connections)
	fmt.Fprintf(c.out, "Calls: %d\n", data.Calls)
	fmt.Fprintf(c.out, "Uptime: %s\n", (time.Duration(data.Uptime) * time.Second).String())
	return nil
}

// Grants lists clients waiting for the operator.
func (c *Client) Grants() error {
	var grants []service.PendingGrant
	if err := c.get("/api/grants", &grants); err != nil {
		return err
	}
	if len(grants) == 0 {
		fmt.Fprintln(c.out, "No pending grants")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCLIENT\tUID\tPID\tWAITING")
	for _, g := range grants {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			g.ID, g.Client, g.Identity.UID, g.Identity.PID, time.Since(g.Timestamp).Round(time.Second))
	}
	return w.Flush()
}

func (c *Client) resolveGrant(id, action string) error {
	url := fmt.Sprintf("%s/api/grants/%s/%s", c.baseURL, id, action)
	resp, err := c.http.Post(url, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return nil
}

// History displays the audit log.
func (c *Client) History() error {
	var history []service.AuditEntry
	if err := c.get("/api/history", &history); err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(c.out, "No audit history")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tMETHOD\tSUBJECT\tUID\tDECISION\tDURATION\tERROR")
	for _, e := range history {
		timestamp := e.Timestamp
		if t, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
			timestamp = t.Format("15:04:05")
		}

		duration := ""
		if e.Duration > 0 {
			duration = fmt.Sprintf("%.0fms", e.Duration)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			timestamp, e.Method, e.Subject, e.Identity.UID, e.Decision, duration, e.Error)
	}
	return w.Flush()
}
