package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/health"
	"github.com/cuemby/conduit/pkg/retry"
	"github.com/spf13/cobra"
)

type statusReport struct {
	APIURL        string `json:"apiUrl"`
	Reachable     bool   `json:"reachable"`
	Message       string `json:"message,omitempty"`
	LatencyMs     int64  `json:"latencyMs"`
	Authenticated bool   `json:"authenticated"`
	SessionValid  bool   `json:"sessionValid"`
	User          string `json:"user,omitempty"`
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check that the console API is reachable and the session is valid",
		Long: `Probe the console's health endpoint, retrying transient failures with
the configured backoff, then validate the stored session.

With --watch the API is probed every --interval until interrupted, and
health changes are reported as they happen.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts.cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			// Retries are driven here, so the probe bypasses the retry transport
			hc, err := probeClient(opts)
			if err != nil {
				return err
			}
			checker := health.NewHTTPChecker(healthURL(opts.cfg.API.BaseURL)).
				WithClient(hc).
				WithTimeout(opts.cfg.API.Timeout.Duration)
			out := newPrinter(cmd.OutOrStdout(), opts.output)

			if watch {
				return watchStatus(cmd.Context(), out, checker, interval)
			}

			report := statusReport{APIURL: opts.cfg.API.BaseURL}
			result, err := retry.Do(cmd.Context(), opts.cfg.RetryPolicy(), func(ctx context.Context) (health.Result, error) {
				r := checker.Check(ctx)
				if !r.Healthy {
					e := apierror.New(apierror.CodeExternalServiceError, r.Message)
					e.Status = http.StatusServiceUnavailable
					return r, e
				}
				return r, nil
			})
			report.Reachable = err == nil
			report.Message = result.Message
			report.LatencyMs = result.Duration.Milliseconds()
			if err != nil {
				report.Message = err.Error()
				// Tell a down host apart from an unhealthy API
				if tcp, terr := health.NewTCPCheckerForURL(opts.cfg.API.BaseURL); terr == nil {
					if tr := tcp.Check(cmd.Context()); tr.Healthy {
						report.Message += " (port open, API unhealthy)"
					} else {
						report.Message += " (host unreachable)"
					}
				}
			}

			report.Authenticated = rt.api.IsAuthenticated()
			if report.Reachable && report.Authenticated {
				if session, err := rt.console.Validate(cmd.Context()); err == nil && session.Valid {
					report.SessionValid = true
					if me, err := rt.console.Me(cmd.Context()); err == nil {
						report.User = me.Username
					}
				}
			}

			if err := out.fields(report,
				[2]string{"API", report.APIURL},
				[2]string{"Reachable", reachableText(report)},
				[2]string{"Logged in", yesNo(report.SessionValid)},
				[2]string{"User", orDash(report.User)},
			); err != nil {
				return err
			}
			if !report.Reachable {
				return apierror.New(apierror.CodeNetworkError, "console API is unreachable")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep probing until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "Probe interval with --watch")
	return cmd
}

func probeClient(opts *globalOptions) (*http.Client, error) {
	cc, err := opts.cfg.ClientConfig()
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cc.TLS != nil {
		transport.TLSClientConfig = cc.TLS
	}
	return &http.Client{Transport: transport}, nil
}

func healthURL(base string) string {
	return strings.TrimRight(base, "/") + health.DefaultHealthPath
}

func watchStatus(ctx context.Context, out *printer, checker health.Checker, interval time.Duration) error {
	monitor := health.NewMonitor("console-api", checker, health.Config{
		Interval: interval,
		Timeout:  interval,
		Retries:  2,
	})
	monitor.Run(ctx, func(st health.Status) {
		state := successStyle.Render("healthy")
		if !st.Healthy {
			state = failureStyle.Render("unhealthy for " + st.LastCheck.Sub(st.DownSince).Round(time.Second).String())
		}
		if out.json {
			report := map[string]any{
				"time":     st.LastCheck,
				"healthy":  st.Healthy,
				"failures": st.ConsecutiveFailures,
				"message":  st.LastResult.Message,
			}
			if !st.DownSince.IsZero() {
				report["downSince"] = st.DownSince
			}
			_ = out.raw(report)
			return
		}
		fmt.Fprintf(out.w, "%s  %s  %s\n", formatTime(st.LastCheck), state, mutedStyle.Render(st.LastResult.Message))
	})
	return nil
}

func reachableText(r statusReport) string {
	if !r.Reachable {
		return failureStyle.Render("no") + " " + mutedStyle.Render(r.Message)
	}
	return successStyle.Render("yes") + mutedStyle.Render(fmt.Sprintf(" (%dms)", r.LatencyMs))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
