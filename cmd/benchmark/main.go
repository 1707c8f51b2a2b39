// Benchmark replays a freshly generated labelled population through a
// running scamscore server and reports how its verdicts match the labels.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -n 5000 -seed 7
//
// This tool:
//  1. Generates labelled transactions from a seeded synthetic population
//  2. Sends each one to POST /assess
//  3. Compares the predicted scam flag (probability >= 0.5) with the label
//  4. Prints the confusion matrix, precision, recall, F1 and tier counts
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/scamscore/internal/api"
	"github.com/opensource-finance/scamscore/internal/assess"
	"github.com/opensource-finance/scamscore/internal/dataset"
	"github.com/opensource-finance/scamscore/internal/domain"
	"github.com/opensource-finance/scamscore/internal/history"
	"github.com/opensource-finance/scamscore/internal/model"
	"github.com/opensource-finance/scamscore/internal/profile"
)

// Results tracks benchmark outcomes.
type Results struct {
	mu        sync.Mutex
	confusion model.Confusion
	tiers     map[domain.RiskTier]int

	TotalProcessed   int64
	TotalErrors      int64
	ProcessingTimeMs int64
}

func (r *Results) record(predicted, actual bool, tier domain.RiskTier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confusion.Add(predicted, actual)
	r.tiers[tier]++
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "scamscore base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	seed := flag.Uint64("seed", 7, "Random seed for the replayed population")
	users := flag.Int("users", 500, "Number of user profiles")
	n := flag.Int("n", 5000, "Number of transactions to replay")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	fmt.Println("ScamScore benchmark - synthetic UPI population")
	fmt.Printf("\nURL:      %s\n", *baseURL)
	fmt.Printf("Tenant:   %s\n", *tenantID)
	fmt.Printf("Seed:     %d\n", *seed)
	fmt.Printf("Workers:  %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: scamscore not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the server is running:")
		fmt.Println("  go run ./cmd/train && go run ./cmd/scamscore")
		os.Exit(1)
	}
	fmt.Println("server is healthy")

	src := profile.NewSource(*seed)
	table, err := dataset.NewGenerator(src).Generate(profile.CreatePopulation(src, *users), *n)
	if err != nil {
		fmt.Printf("ERROR: failed to generate transactions: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("generated %d transactions (%d scams)\n", table.Len(), table.Positives())

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	results := runBenchmark(table.Rows, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(results, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// toRequest rebuilds the raw request that produces the row's features: the
// baseline average reproduces the ratio and the bucket covers the velocity.
func toRequest(row dataset.Row) assess.Request {
	f := row.Features
	newBeneficiary := f.IsNewBeneficiary == 1
	newDevice := f.IsNewDevice == 1

	txType := domain.TxTypeDebit
	if f.IsCollectRequest == 1 {
		txType = domain.TxTypeCollectRequest
	}

	req := assess.Request{
		Amount:           assess.AmountText(strconv.FormatFloat(f.Amount, 'f', -1, 64)),
		TransactionType:  string(txType),
		IsNewBeneficiary: &newBeneficiary,
		IsNewDevice:      &newDevice,
		Frequency:        string(history.BucketForCount(int64(f.TxVelocity1h))),
	}
	if f.AmountToAvgRatio > 0 {
		req.BaselineAvg = f.Amount / f.AmountToAvgRatio
	}
	return req
}

func runBenchmark(rows []dataset.Row, baseURL, tenantID string, numWorkers int, verbose bool) *Results {
	results := &Results{tiers: make(map[domain.RiskTier]int)}

	work := make(chan dataset.Row, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				resp, err := assessRow(client, baseURL, tenantID, row)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&results.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&results.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&results.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", row.Stratum, err)
					}
					continue
				}

				predicted := resp.ScamProbability >= model.DecisionThreshold
				actual := row.IsScam == 1
				results.record(predicted, actual, resp.Tier)

				if verbose {
					status := "ok"
					if predicted != actual {
						status = "XX"
					}
					fmt.Printf("%s %-22s | Amount: %10.2f | Scam: %-5v | %-6s (%.3f)\n",
						status,
						row.Stratum,
						row.Features.Amount,
						actual,
						resp.Tier,
						resp.ScamProbability,
					)
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)

	wg.Wait()

	return results
}

func assessRow(client *http.Client, baseURL, tenantID string, row dataset.Row) (*api.AssessResponse, error) {
	body, err := json.Marshal(toRequest(row))
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/assess", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(api.TenantIDHeader, tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result api.AssessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(r *Results, duration time.Duration) {
	c := r.confusion

	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", r.TotalProcessed)
	fmt.Printf("   Scams:            %d\n", c.TP+c.FN)
	fmt.Printf("   Legitimate:       %d\n", c.TN+c.FP)
	fmt.Printf("   Errors:           %d\n", r.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    scam        legit")
	fmt.Printf("   Actual  scam   %8d   %8d   (TP, FN)\n", c.TP, c.FN)
	fmt.Printf("           legit  %8d   %8d   (FP, TN)\n", c.FP, c.TN)

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", c.Precision())
	fmt.Printf("   Recall:     %.4f\n", c.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", c.F1())
	fmt.Printf("   Accuracy:   %.4f\n", c.Accuracy())

	fmt.Printf("\nRISK TIERS\n")
	fmt.Printf("   HIGH:    %d\n", r.tiers[domain.RiskHigh])
	fmt.Printf("   MEDIUM:  %d\n", r.tiers[domain.RiskMedium])
	fmt.Printf("   LOW:     %d\n", r.tiers[domain.RiskLow])

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if r.TotalProcessed > 0 {
		avgMs := float64(r.ProcessingTimeMs) / float64(r.TotalProcessed)
		tps := float64(r.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
