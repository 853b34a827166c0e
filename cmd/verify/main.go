// Verification tool for checking thrombocalc's decisions against the
// published ASH guidance.
//
// Usage:
//   go run cmd/verify/main.go -url http://localhost:8080
//
// This tool:
//   1. Walks the embedded recommendation catalog
//   2. Evaluates each record at baseline parameters via the running API
//   3. Compares the computed decision with the guideline decision
//   4. Prints per-group agreement and a confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clinical-go/thrombocalc/internal/catalog"
	"github.com/clinical-go/thrombocalc/internal/domain"
)

// EvaluateResponse is the subset of the API response the tool inspects.
type EvaluateResponse struct {
	ConsultID   string            `json:"consultId"`
	Decision    domain.Decision   `json:"decision"`
	AshDecision domain.Decision   `json:"ashDecision"`
	Agrees      bool              `json:"agrees"`
	Thresholds  domain.Thresholds `json:"thresholds"`
}

// recordResult is one record's verification outcome.
type recordResult struct {
	rec  *domain.Recommendation
	resp *EvaluateResponse
	err  error
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "thrombocalc base URL")
	clinicID := flag.String("clinic", "verify-tool", "Clinic ID for requests")
	group := flag.String("group", "", "Only verify one recommendation group (e.g. R15-R20)")
	workers := flag.Int("workers", 8, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each record result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        THROMBOCALC VERIFY - Guideline Agreement Check         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nServer URL:  %s\n", *baseURL)
	fmt.Printf("Clinic ID:   %s\n", *clinicID)
	fmt.Printf("Workers:     %d\n", *workers)
	if *group != "" {
		fmt.Printf("Group:       %s\n", *group)
	}
	fmt.Println()

	// Check the server is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: thrombocalc not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure thrombocalc is running:")
		fmt.Println("  go run cmd/thrombocalc/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ thrombocalc is healthy")

	cat, err := catalog.Load()
	if err != nil {
		fmt.Printf("ERROR: failed to load catalog: %v\n", err)
		os.Exit(1)
	}

	records := cat.All()
	if *group != "" {
		records = cat.ByGroup(domain.Group(*group))
		if len(records) == 0 {
			fmt.Printf("ERROR: unknown group %q\n", *group)
			os.Exit(1)
		}
	}
	fmt.Printf("✓ Loaded %d records\n", len(records))

	fmt.Printf("\nVerifying with %d workers...\n", *workers)
	startTime := time.Now()
	results := runVerification(records, *baseURL, *clinicID, *workers, *verbose)
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

func runVerification(records []*domain.Recommendation, baseURL, clinicID string, numWorkers int, verbose bool) []recordResult {
	work := make(chan *domain.Recommendation, len(records))
	results := make([]recordResult, 0, len(records))

	var mu sync.Mutex
	var wg sync.WaitGroup
	var errCount int64

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for rec := range work {
				resp, err := evaluateRecord(client, baseURL, clinicID, rec)
				if err != nil {
					atomic.AddInt64(&errCount, 1)
				}

				mu.Lock()
				results = append(results, recordResult{rec: rec, resp: resp, err: err})
				mu.Unlock()

				if verbose {
					status := "✓"
					detail := ""
					switch {
					case err != nil:
						status = "!"
						detail = err.Error()
					case !resp.Agrees:
						status = "✗"
						detail = fmt.Sprintf("guideline=%s computed=%s", resp.AshDecision, resp.Decision)
					}
					fmt.Printf("%s %-10s | %-8s %s\n", status, rec.ID, rec.Group, detail)
				}
			}
		}()
	}

	for _, rec := range records {
		work <- rec
	}
	close(work)
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].rec.ID < results[j].rec.ID
	})

	return results
}

func evaluateRecord(client *http.Client, baseURL, clinicID string, rec *domain.Recommendation) (*EvaluateResponse, error) {
	// Empty body evaluates the record's baseline risk.
	endpoint := baseURL + "/recommendations/" + url.PathEscape(rec.ID) + "/evaluate"

	httpReq, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Clinic-ID", clinicID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(results []recordResult, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     VERIFICATION RESULTS                      ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	total := 0
	agree := 0
	errs := 0

	type groupTally struct {
		total int
		agree int
	}
	groups := map[domain.Group]*groupTally{}
	confusion := map[domain.Decision]map[domain.Decision]int{}
	var disagreements []recordResult

	for _, r := range results {
		if r.err != nil {
			errs++
			continue
		}
		total++

		g := groups[r.rec.Group]
		if g == nil {
			g = &groupTally{}
			groups[r.rec.Group] = g
		}
		g.total++

		if confusion[r.resp.AshDecision] == nil {
			confusion[r.resp.AshDecision] = map[domain.Decision]int{}
		}
		confusion[r.resp.AshDecision][r.resp.Decision]++

		if r.resp.Agrees {
			agree++
			g.agree++
		} else {
			disagreements = append(disagreements, r)
		}
	}

	fmt.Printf("\n📊 CATALOG STATISTICS\n")
	fmt.Printf("   Records Evaluated:  %d\n", total)
	fmt.Printf("   Errors:             %d\n", errs)
	if total > 0 {
		fmt.Printf("   Overall Agreement:  %d / %d (%.1f%%)\n", agree, total, 100*float64(agree)/float64(total))
	}

	fmt.Printf("\n📈 PER-GROUP AGREEMENT\n")
	groupNames := make([]domain.Group, 0, len(groups))
	for g := range groups {
		groupNames = append(groupNames, g)
	}
	sort.Slice(groupNames, func(i, j int) bool { return groupNames[i] < groupNames[j] })
	for _, g := range groupNames {
		t := groups[g]
		fmt.Printf("   %-10s  %3d / %3d (%.1f%%)\n", g, t.agree, t.total, 100*float64(t.agree)/float64(t.total))
	}

	decisions := []domain.Decision{domain.DecisionDoNotTreat, domain.DecisionTest, domain.DecisionTreatAll}
	fmt.Printf("\n🎯 CONFUSION MATRIX (guideline → computed)\n")
	fmt.Printf("   %-10s", "")
	for _, d := range decisions {
		fmt.Printf("%8s", d)
	}
	fmt.Println()
	for _, ash := range decisions {
		fmt.Printf("   %-10s", ash)
		for _, computed := range decisions {
			fmt.Printf("%8d", confusion[ash][computed])
		}
		fmt.Println()
	}

	if len(disagreements) > 0 {
		fmt.Printf("\n🔍 DISAGREEMENTS\n")
		for _, r := range disagreements {
			fmt.Printf("   %-10s  guideline=%-4s computed=%-4s  (treat=%.6f, test=%.6f)\n",
				r.rec.ID, r.resp.AshDecision, r.resp.Decision,
				r.resp.Thresholds.Treatment, r.resp.Thresholds.Testing)
		}
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if total > 0 {
		fmt.Printf("   Throughput:       %.2f records/sec\n", float64(total)/duration.Seconds())
	}

	fmt.Println()
}
