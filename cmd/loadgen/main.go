// Command loadgen drives concurrent traffic at an edge listener and reports
// latency percentiles and how responses split between upstream answers,
// guard rejections and gateway failures.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
)

type result struct {
	status  int
	latency time.Duration
}

type report struct {
	total       int
	elapsed     time.Duration
	statusCodes map[int]int
	avg         time.Duration
	min, max    time.Duration
	p50, p90    time.Duration
	p95, p99    time.Duration
}

var (
	target      string
	concurrency int
	requests    int
	method      string
	body        string
	headers     []string
)

var rootCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Generate concurrent load against a fleetedge route",
	RunE:  runLoad,
}

func init() {
	rootCmd.Flags().StringVarP(&target, "target", "t", "http://localhost:8085/config-api/country/list", "URL to request")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 10, "number of concurrent workers")
	rootCmd.Flags().IntVarP(&requests, "requests", "n", 100, "total number of requests")
	rootCmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	rootCmd.Flags().StringVarP(&body, "data", "d", "", "request body")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `extra header, e.g. "Authorization: Bearer abc"`)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runLoad(cmd *cobra.Command, _ []string) error {
	if concurrency < 1 || requests < 1 {
		return fmt.Errorf("concurrency and requests must be positive")
	}
	fmt.Printf("Starting load: target=%s method=%s c=%d n=%d\n", target, method, concurrency, requests)

	jobs := make(chan struct{}, requests)
	for i := 0; i < requests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	results := make(chan result, requests)
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			for range jobs {
				results <- send(client)
			}
		}()
	}

	wg.Wait()
	close(results)

	collected := make([]result, 0, requests)
	for res := range results {
		collected = append(collected, res)
	}
	printReport(summarize(collected, time.Since(start)))
	return nil
}

func send(client *http.Client) result {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, target, rd)
	if err != nil {
		return result{}
	}
	for _, h := range headers {
		if k, v, ok := strings.Cut(h, ":"); ok {
			req.Header.Set(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}

	reqStart := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return result{latency: time.Since(reqStart)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return result{status: resp.StatusCode, latency: time.Since(reqStart)}
}

func summarize(results []result, elapsed time.Duration) report {
	r := report{total: len(results), elapsed: elapsed, statusCodes: make(map[int]int)}
	if r.total == 0 {
		return r
	}

	latencies := make([]time.Duration, 0, len(results))
	var sum time.Duration
	for _, res := range results {
		r.statusCodes[res.status]++
		latencies = append(latencies, res.latency)
		sum += res.latency
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	pct := func(p float64) time.Duration { return latencies[int(float64(len(latencies)-1)*p)] }
	r.avg = sum / time.Duration(r.total)
	r.min, r.max = latencies[0], latencies[len(latencies)-1]
	r.p50, r.p90, r.p95, r.p99 = pct(0.50), pct(0.90), pct(0.95), pct(0.99)
	return r
}

func statusLabel(code int) string {
	switch {
	case code == 0:
		return "Connection error"
	case code == http.StatusForbidden:
		return "Blocked (IP/country)"
	case code == http.StatusTooManyRequests:
		return "Rate limited"
	case code == http.StatusRequestEntityTooLarge:
		return "Body too large"
	case code == http.StatusBadGateway:
		return "Upstream unreachable"
	case code == http.StatusGatewayTimeout:
		return "Upstream timeout"
	case code >= 200 && code < 400:
		return "Served"
	default:
		return "Upstream status"
	}
}

func printReport(r report) {
	if r.total == 0 {
		fmt.Println("No requests completed.")
		return
	}
	fmt.Printf("\n--- Throughput & Timing ---\n")
	fmt.Printf("Total Time:     %v\n", r.elapsed)
	fmt.Printf("Requests/sec:   %.2f\n", float64(r.total)/r.elapsed.Seconds())
	fmt.Printf("Avg Latency:    %v\n", r.avg)
	fmt.Printf("Min Latency:    %v\n", r.min)
	fmt.Printf("Max Latency:    %v\n", r.max)

	fmt.Printf("\n--- Latency Percentiles ---\n")
	fmt.Printf("  p50: %v\n  p90: %v\n  p95: %v\n  p99: %v\n", r.p50, r.p90, r.p95, r.p99)

	codes := make([]int, 0, len(r.statusCodes))
	for code := range r.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	fmt.Printf("\n--- Responses ---\n")
	for _, code := range codes {
		fmt.Printf("  [%d] %-22s : %d\n", code, statusLabel(code), r.statusCodes[code])
	}
}
