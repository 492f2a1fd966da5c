package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var loadOpts struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	uploadRatio float64
	cleanup     bool
}

var loadQueries = []string{
	"invoice",
	"invoice payment",
	"maintenance report",
	"hello world",
	"freight logistics",
	"recieved",
	"pump bearing temperature",
	"quarterly",
}

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Drive mixed upload and search traffic at the ingestion API",
	Long: `loadtest runs concurrent clients against a running ingestion service for a
fixed duration. Each request is an upload of a small generated PDF with
probability --upload-ratio and a search otherwise. Latency percentiles and
status codes are reported per operation.`,
	Args: cobra.NoArgs,
	// Talks HTTP only; no config or connections needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		if loadOpts.concurrency <= 0 {
			return fmt.Errorf("%w: --concurrency must be positive", errUsage)
		}
		if loadOpts.uploadRatio < 0 || loadOpts.uploadRatio > 1 {
			return fmt.Errorf("%w: --upload-ratio must be within [0, 1]", errUsage)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "target %s, %d clients for %s, %.0f%% uploads\n",
			loadOpts.baseURL, loadOpts.concurrency, loadOpts.duration, loadOpts.uploadRatio*100)

		lt := newLoadTester(loadOpts.baseURL, loadOpts.concurrency)
		ctx, cancel := context.WithTimeout(cmd.Context(), loadOpts.duration)
		defer cancel()
		lt.run(ctx, loadOpts.concurrency, loadOpts.uploadRatio)

		lt.report(out, loadOpts.duration)
		if loadOpts.cleanup {
			n := lt.cleanup(cmd.Context())
			fmt.Fprintf(out, "deleted %d uploaded documents\n", n)
		}
		if lt.total() == 0 {
			return fmt.Errorf("no requests completed; is the service running at %s?", loadOpts.baseURL)
		}
		return nil
	},
}

func init() {
	f := loadtestCmd.Flags()
	f.StringVar(&loadOpts.baseURL, "url", "http://localhost:8081", "base URL of the ingestion service")
	f.IntVar(&loadOpts.concurrency, "concurrency", 8, "number of concurrent clients")
	f.DurationVar(&loadOpts.duration, "duration", 30*time.Second, "test duration")
	f.Float64Var(&loadOpts.uploadRatio, "upload-ratio", 0.1, "fraction of requests that upload a document")
	f.BoolVar(&loadOpts.cleanup, "cleanup", true, "delete the documents uploaded during the run")
	rootCmd.AddCommand(loadtestCmd)
}

// opStats collects one operation's outcomes.
type opStats struct {
	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int
	errors    int
}

func (s *opStats) record(d time.Duration, status int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors++
		return
	}
	s.latencies = append(s.latencies, d)
	s.codes[status]++
	if status >= 300 {
		s.errors++
	}
}

type loadTester struct {
	baseURL  string
	client   *http.Client
	ops      map[string]*opStats
	seq      atomic.Int64
	mu       sync.Mutex
	uploaded []int64
}

func newLoadTester(baseURL string, concurrency int) *loadTester {
	lt := &loadTester{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        concurrency * 2,
				MaxIdleConnsPerHost: concurrency * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		ops: map[string]*opStats{
			"upload": {codes: make(map[int]int)},
			"search": {codes: make(map[int]int)},
		},
	}
	return lt
}

func (lt *loadTester) run(ctx context.Context, concurrency int, uploadRatio float64) {
	var g errgroup.Group
	for c := 0; c < concurrency; c++ {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(c), uint64(time.Now().UnixNano())))
			for ctx.Err() == nil {
				if rng.Float64() < uploadRatio {
					lt.upload(ctx)
				} else {
					lt.search(ctx, loadQueries[rng.IntN(len(loadQueries))])
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (lt *loadTester) upload(ctx context.Context) {
	n := lt.seq.Add(1)
	name := fmt.Sprintf("loadtest-%d.pdf", n)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err == nil {
		_, err = part.Write(samplePDF(fmt.Sprintf("Load test invoice %d payment received", n)))
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		lt.ops["upload"].record(0, 0, err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lt.baseURL+"/api/v1/documents", &body)
	if err != nil {
		lt.ops["upload"].record(0, 0, err)
		return
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var created struct {
		ID int64 `json:"id"`
	}
	status, d, err := lt.do(req, &created)
	if ctx.Err() != nil {
		return
	}
	lt.ops["upload"].record(d, status, err)
	if err == nil && status == http.StatusCreated && created.ID > 0 {
		lt.mu.Lock()
		lt.uploaded = append(lt.uploaded, created.ID)
		lt.mu.Unlock()
	}
}

func (lt *loadTester) search(ctx context.Context, query string) {
	u := fmt.Sprintf("%s/api/v1/documents/search?q=%s&limit=10", lt.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		lt.ops["search"].record(0, 0, err)
		return
	}
	status, d, err := lt.do(req, nil)
	if ctx.Err() != nil {
		return
	}
	lt.ops["search"].record(d, status, err)
}

func (lt *loadTester) do(req *http.Request, out any) (int, time.Duration, error) {
	start := time.Now()
	resp, err := lt.client.Do(req)
	if err != nil {
		return 0, time.Since(start), err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		err = json.NewDecoder(resp.Body).Decode(out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, time.Since(start), err
}

// cleanup deletes the documents uploaded during the run.
func (lt *loadTester) cleanup(ctx context.Context) int {
	lt.mu.Lock()
	ids := append([]int64(nil), lt.uploaded...)
	lt.mu.Unlock()
	var deleted atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/api/v1/documents/%d", lt.baseURL, id), nil)
			if err != nil {
				return nil
			}
			if status, _, err := lt.do(req, nil); err == nil && status == http.StatusNoContent {
				deleted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(deleted.Load())
}

func (lt *loadTester) total() int {
	n := 0
	for _, s := range lt.ops {
		s.mu.Lock()
		n += len(s.latencies)
		s.mu.Unlock()
	}
	return n
}

func (lt *loadTester) report(w io.Writer, duration time.Duration) {
	for _, name := range []string{"upload", "search"} {
		s := lt.ops[name]
		s.mu.Lock()
		latencies := append([]time.Duration(nil), s.latencies...)
		codes := make([]int, 0, len(s.codes))
		for c := range s.codes {
			codes = append(codes, c)
		}
		sort.Ints(codes)
		fmt.Fprintf(w, "\n== %s ==\n", name)
		fmt.Fprintf(w, "requests: %d  errors: %d  rate: %.2f/s\n",
			len(latencies), s.errors, float64(len(latencies))/duration.Seconds())
		for _, c := range codes {
			fmt.Fprintf(w, "  %d: %d\n", c, s.codes[c])
		}
		s.mu.Unlock()

		if len(latencies) == 0 {
			continue
		}
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Fprintf(w, "min %s  avg %s  p50 %s  p90 %s  p99 %s  max %s\n",
			latencies[0],
			sum/time.Duration(len(latencies)),
			percentile(latencies, 50),
			percentile(latencies, 90),
			percentile(latencies, 99),
			latencies[len(latencies)-1],
		)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

// samplePDF renders a one-page PDF whose content stream shows text, so the
// OCR worker's text-layer fallback has something to extract.
func samplePDF(text string) []byte {
	text = strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`).Replace(text)
	stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}
