package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/crawlguard/internal/control"
	"github.com/vietddude/crawlguard/internal/core/domain"
	"github.com/vietddude/crawlguard/internal/resilience/fetch"
)

var (
	fetchRetries  int
	fetchTimeout  time.Duration
	fetchParallel int
	fetchBrowser  bool
	fetchAnalysis bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch URL...",
	Short: "Fetch URLs through the engine and print a status table",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().IntVar(&fetchRetries, "retries", -1, "retries per URL (default from config)")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 0, "timeout per attempt (default from config)")
	fetchCmd.Flags().IntVar(&fetchParallel, "parallel", 8, "maximum URLs in flight")
	fetchCmd.Flags().BoolVar(&fetchBrowser, "browser", false, "load pages in the browser transport")
	fetchCmd.Flags().BoolVar(&fetchAnalysis, "analysis", true, "print per-domain analysis")
	rootCmd.AddCommand(fetchCmd)
}

// fetchRow is one line of the result table.
type fetchRow struct {
	URL      string
	Status   int
	Bytes    int
	Attempts int
	Latency  time.Duration
	Err      error
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if fetchBrowser {
		cfg.Browser.Enabled = true
	}

	app, err := control.NewEngine(cfg, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		return err
	}

	var opts []fetch.Option
	if fetchRetries >= 0 {
		opts = append(opts, fetch.WithMaxRetries(fetchRetries))
	}
	if fetchTimeout > 0 {
		opts = append(opts, fetch.WithTimeout(fetchTimeout))
	}
	if fetchBrowser {
		opts = append(opts, fetch.WithFallback())
	}

	rows := fetchAll(ctx, app, args, fetchParallel, opts...)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil {
		slog.Warn("Error during shutdown", "error", err)
	}

	out := cmd.OutOrStdout()
	printRows(out, rows)
	if fetchAnalysis {
		printAnalysis(out, app.Executor(), rows)
	}

	failed := 0
	for _, r := range rows {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(rows))
	}
	return nil
}

// fetchAll fetches urls concurrently; rows keep the argument order.
func fetchAll(ctx context.Context, app *control.Engine, urls []string, parallel int, opts ...fetch.Option) []fetchRow {
	rows := make([]fetchRow, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}

	for i, u := range urls {
		g.Go(func() error {
			start := time.Now()
			resp, err := app.Fetch(gctx, u, opts...)
			row := fetchRow{URL: u, Latency: time.Since(start), Err: err, Attempts: 1}
			if resp != nil {
				row.Status = resp.Status
				row.Bytes = len(resp.Body)
			}
			var fe *fetch.Error
			if errors.As(err, &fe) {
				row.Attempts = fe.Attempts
				if fe.Last != nil {
					row.Status = fe.Last.HTTPStatus
				}
			}
			rows[i] = row
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

func printRows(out io.Writer, rows []fetchRow) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "URL\tSTATUS\tBYTES\tATTEMPTS\tTIME\tERROR")
	for _, r := range rows {
		errText := "-"
		if r.Err != nil {
			errText = r.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
			r.URL, r.Status, r.Bytes, r.Attempts, r.Latency.Round(time.Millisecond), errText)
	}
	_ = w.Flush()
}

func printAnalysis(out io.Writer, exec *fetch.Executor, rows []fetchRow) {
	seen := make(map[string]bool)
	var domains []string
	for _, r := range rows {
		d, err := domain.HostOf(r.URL)
		if err != nil || seen[d] {
			continue
		}
		seen[d] = true
		domains = append(domains, d)
	}
	sort.Strings(domains)

	_, _ = fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "DOMAIN\tERRORS\tCONSECUTIVE\tBLACKLISTED\tRECOMMENDED")
	for _, d := range domains {
		a := exec.DomainAnalysis(d)
		rec := "-"
		if len(a.RecommendedActions) > 0 {
			rec = strings.Join(a.RecommendedActions, "; ")
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%t\t%s\n", d, a.ErrorsInWindow, a.ConsecutiveFailures, a.Blacklisted, rec)
	}
	_ = w.Flush()
}
