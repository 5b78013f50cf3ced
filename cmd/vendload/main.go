package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// vendload fires concurrent purchase requests at a running server and
// checks that successes never exceed the item's starting stock.
func main() {
	baseURL := flag.String("url", "http://localhost:8000", "server base URL")
	itemID := flag.Int64("item", 1, "item id to purchase")
	cash := flag.Int("cash", 100, "cash inserted per purchase")
	requests := flag.Int("n", 50, "number of concurrent purchase requests")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	stock, err := itemQuantity(client, *baseURL, *itemID)
	if err != nil {
		log.Fatalf("failed to read item: %v", err)
	}

	var success, soldOut, failed atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			body, _ := json.Marshal(map[string]interface{}{
				"request_id":    uuid.NewString(),
				"item_id":       *itemID,
				"cash_inserted": *cash,
			})
			resp, err := client.Post(*baseURL+"/purchase", "application/json", bytes.NewReader(body))
			if err != nil {
				failed.Add(1)
				return
			}
			resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusOK:
				success.Add(1)
			case http.StatusBadRequest:
				soldOut.Add(1)
			default:
				failed.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	remaining, err := itemQuantity(client, *baseURL, *itemID)
	if err != nil {
		log.Fatalf("failed to re-read item: %v", err)
	}

	fmt.Println("========== VENDLOAD RESULTS ==========")
	fmt.Printf("Starting Stock:   %d\n", stock)
	fmt.Printf("Total Requests:   %d\n", *requests)
	fmt.Printf("Successful:       %d\n", success.Load())
	fmt.Printf("Rejected:         %d\n", soldOut.Load())
	fmt.Printf("Errors:           %d\n", failed.Load())
	fmt.Printf("Remaining Stock:  %d\n", remaining)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("======================================")

	if int(success.Load()) == stock-remaining && remaining >= 0 {
		fmt.Println("PASS: every success maps to exactly one stock decrement")
	} else {
		fmt.Printf("FAIL: %d successes but stock moved %d -> %d\n", success.Load(), stock, remaining)
	}
}

func itemQuantity(client *http.Client, baseURL string, itemID int64) (int, error) {
	resp, err := client.Get(fmt.Sprintf("%s/items/%d", baseURL, itemID))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var item struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return 0, err
	}
	return item.Quantity, nil
}
