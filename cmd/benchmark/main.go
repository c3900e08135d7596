package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Benchmark settings
var (
	targetURL   string
	bearerToken string
	cardID      string
	recipient   string
	concurrency int
	duration    time.Duration
	replayRate  float64
)

// Metrics
var (
	totalRequests uint64
	created201    uint64 // New settlements
	replayed      uint64 // Idempotent replays
	conflict409   uint64
	rejected422   uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&bearerToken, "token", "", "Bearer token for the caller")
	flag.StringVar(&cardID, "card", "", "Source card id")
	flag.StringVar(&recipient, "recipient", "0000 0000 0000 9013", "Recipient card descriptor")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.Float64Var(&replayRate, "replay", 0.1, "Fraction of requests reusing a recent idempotency key")
}

func main() {
	flag.Parse()
	if bearerToken == "" || cardID == "" {
		log.Fatal("both -token and -card are required (run the seeder for demo values)")
	}
	log.Printf("Starting Benchmark | Workers: %d | Duration: %s | Replay: %.0f%%",
		concurrency, duration, replayRate*100)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}
	wg.Wait()

	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	var lastKey string
	for time.Since(start) < duration {
		key := fmt.Sprintf("bench-%d", time.Now().UnixNano())
		if lastKey != "" && rand.Float64() < replayRate {
			key = lastKey
		}
		lastKey = key

		payload := map[string]interface{}{
			"amount":    int64(1),
			"currency":  "GHS",
			"cardId":    cardID,
			"recipient": recipient,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+bearerToken)
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			if key == lastKey && key != "" && resp.Header.Get("X-Replayed") == "true" {
				atomic.AddUint64(&replayed, 1)
			} else {
				atomic.AddUint64(&created201, 1)
			}
		case 409:
			atomic.AddUint64(&conflict409, 1)
		case 422:
			atomic.AddUint64(&rejected422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)

	results := map[string]interface{}{
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  float64(total) / d.Seconds(),
		"settled":         atomic.LoadUint64(&created201),
		"replays":         atomic.LoadUint64(&replayed),
		"conflicts":       atomic.LoadUint64(&conflict409),
		"rule_rejections": atomic.LoadUint64(&rejected422),
		"errors":          atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)
}
