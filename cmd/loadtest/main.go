// Command loadtest drives POST /api/v1/resolve with concurrent workers and
// prints latency, status and cache-hit figures.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"
)

var defaultTexts = []string{
	"Sarah Chen walked through the Project Phoenix timeline with Alex.",
	"Action item: Priya to follow up with the Platform Team about the Q3 roadmap.",
	"We reviewed the Incident Review notes and agreed to revisit [[Runbook]] next week.",
	"Marcus raised concerns about the Billing Migration; see [billing doc](https://example.com/billing).",
	"No known names in this sentence at all.",
	"Alex and Jordan will pair on the Search Relevance spike before Friday.",
	"The Design Review for Project Atlas moved to Thursday; Sarah Chen will host.",
	"C++ tooling and Test-Driven-Development came up in the engineering sync.",
}

type options struct {
	baseURL       string
	concurrency   int
	duration      time.Duration
	maxCandidates int
	texts         []string
}

// workerResult is owned by one worker until the run ends, so recording
// needs no locking.
type workerResult struct {
	latencies []time.Duration
	statuses  map[int]int
	failures  int
	cacheHits int
	links     int
}

func (r *workerResult) merge(o *workerResult) {
	r.latencies = append(r.latencies, o.latencies...)
	for code, n := range o.statuses {
		r.statuses[code] += n
	}
	r.failures += o.failures
	r.cacheHits += o.cacheHits
	r.links += o.links
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "base URL of the linker service")
	flag.IntVar(&opts.concurrency, "concurrency", 10, "number of concurrent workers")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "test duration")
	flag.IntVar(&opts.maxCandidates, "max-candidates", 0, "max_candidates sent with each request (0 uses the server default)")
	textsFile := flag.String("texts", "", "file with one transcript excerpt per line (defaults to built-in samples)")
	flag.Parse()

	opts.baseURL = strings.TrimRight(opts.baseURL, "/")
	opts.texts = defaultTexts
	if *textsFile != "" {
		loaded, err := readLines(*textsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading texts: %v\n", err)
			os.Exit(1)
		}
		opts.texts = loaded
	}
	if opts.concurrency < 1 {
		opts.concurrency = 1
	}

	fmt.Printf("resolve load test: %s, %d workers for %s, %d distinct texts\n",
		opts.baseURL, opts.concurrency, opts.duration, len(opts.texts))

	total, elapsed, err := run(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	report(os.Stdout, total, elapsed)
	if len(total.latencies) == 0 {
		fmt.Fprintln(os.Stderr, "no request completed; is linkerd running?")
		os.Exit(1)
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s contains no texts", path)
	}
	return lines, nil
}

func run(opts options) (*workerResult, time.Duration, error) {
	bodies := make([][]byte, len(opts.texts))
	for i, text := range opts.texts {
		req := map[string]any{"text": text}
		if opts.maxCandidates > 0 {
			req["max_candidates"] = opts.maxCandidates
		}
		b, err := json.Marshal(req)
		if err != nil {
			return nil, 0, err
		}
		bodies[i] = b
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency * 2,
			MaxIdleConnsPerHost: opts.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	url := opts.baseURL + "/api/v1/resolve"

	ctx, cancel := context.WithTimeout(context.Background(), opts.duration)
	defer cancel()

	results := make([]*workerResult, opts.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := range results {
		res := &workerResult{statuses: make(map[int]int)}
		results[w] = res
		g.Go(func() error {
			for i := w; gctx.Err() == nil; i++ {
				fire(gctx, client, url, bodies[i%len(bodies)], res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	elapsed := time.Since(start)

	total := &workerResult{statuses: make(map[int]int)}
	for _, r := range results {
		total.merge(r)
	}
	return total, elapsed, nil
}

type resolveReply struct {
	Links    []json.RawMessage `json:"links"`
	CacheHit bool              `json:"cache_hit"`
}

func fire(ctx context.Context, client *http.Client, url string, body []byte, res *workerResult) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		res.failures++
		return
	}
	req.Header.Set("Content-Type", "application/json")

	began := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			res.failures++
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var reply resolveReply
		if json.NewDecoder(resp.Body).Decode(&reply) == nil {
			res.links += len(reply.Links)
			if reply.CacheHit {
				res.cacheHits++
			}
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	res.latencies = append(res.latencies, time.Since(began))
	res.statuses[resp.StatusCode]++
}

func report(out io.Writer, r *workerResult, elapsed time.Duration) {
	completed := len(r.latencies)
	ok := r.statuses[http.StatusOK]

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "completed\t%d\n", completed)
	fmt.Fprintf(tw, "transport failures\t%d\n", r.failures)
	if elapsed > 0 {
		fmt.Fprintf(tw, "throughput\t%.1f req/s\n", float64(completed)/elapsed.Seconds())
	}
	if ok > 0 {
		fmt.Fprintf(tw, "cache hit rate\t%.1f%%\n", 100*float64(r.cacheHits)/float64(ok))
		fmt.Fprintf(tw, "links per response\t%.2f\n", float64(r.links)/float64(ok))
	}

	if completed > 0 {
		lat := slices.Clone(r.latencies)
		slices.Sort(lat)
		var sum time.Duration
		for _, l := range lat {
			sum += l
		}
		fmt.Fprintf(tw, "latency min\t%s\n", lat[0])
		fmt.Fprintf(tw, "latency mean\t%s\n", sum/time.Duration(completed))
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Fprintf(tw, "latency p%.0f\t%s\n", p, percentile(lat, p))
		}
		fmt.Fprintf(tw, "latency max\t%s\n", lat[completed-1])
	}

	codes := make([]int, 0, len(r.statuses))
	for code := range r.statuses {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(tw, "status %d\t%d\n", code, r.statuses[code])
	}
	tw.Flush()
}

// percentile uses the nearest-rank method on sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
