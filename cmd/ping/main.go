package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	count    int
	interval time.Duration
	timeout  time.Duration
	path     string
)

var rootCmd = &cobra.Command{
	Use:   "ping [edge-url]",
	Short: "Probe a fleetedge listener over HTTP",
	Long:  "Sends repeated GET requests to an edge (by default its /healthz endpoint) and reports latency and loss. Exits non-zero when no ping succeeds.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPing,
}

func init() {
	rootCmd.Flags().IntVarP(&count, "count", "c", 4, "number of pings to send")
	rootCmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "interval between pings")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-ping timeout")
	rootCmd.Flags().StringVar(&path, "path", "/healthz", "path requested on the edge, e.g. /config-api/country/list")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runPing(cmd *cobra.Command, args []string) error {
	base := "http://localhost:8085"
	if len(args) == 1 {
		base = args[0]
	}
	target := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")

	fmt.Printf("PING fleetedge %s:\n", target)

	client := &http.Client{Timeout: timeout}
	successCount := 0
	var totalDuration time.Duration

	for i := 0; i < count; i++ {
		start := time.Now()
		resp, err := client.Get(target)
		duration := time.Since(start)

		if err != nil {
			fmt.Printf("ping %d: FAILED (%v)\n", i+1, err)
		} else {
			n, _ := io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			fmt.Printf("ping %d: status=%d bytes=%d time=%v\n", i+1, resp.StatusCode, n, duration)
			if resp.StatusCode < http.StatusInternalServerError {
				successCount++
				totalDuration += duration
			}
		}

		if i < count-1 {
			time.Sleep(interval)
		}
	}

	fmt.Printf("\n--- %s ping statistics ---\n", target)
	fmt.Printf("%d pings sent, %d healthy, %.1f%% loss\n", count, successCount, float64(count-successCount)/float64(count)*100)
	if successCount > 0 {
		fmt.Printf("avg time = %v\n", totalDuration/time.Duration(successCount))
	}

	if successCount == 0 {
		return fmt.Errorf("%s unreachable", target)
	}
	return nil
}
