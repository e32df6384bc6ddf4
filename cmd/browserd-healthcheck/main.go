// Package main is a container health probe for browserd. It exits 0 only when
// /health answers 200 and reports the browser pool as ready.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

type healthResponse struct {
	Status  string `json:"status"`
	Browser string `json:"browser"`
}

func main() {
	port := os.Getenv("REST_PORT")
	if port == "" {
		port = "3007"
	}
	url := flag.String("url", "http://localhost:"+port+"/health", "Health endpoint URL")
	timeout := flag.Duration("timeout", 2*time.Second, "Request timeout")
	flag.Parse()

	if err := check(context.Background(), *url, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Health check passed")
}

func check(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status code %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if health.Browser != "READY" {
		return fmt.Errorf("browser not ready: %q", health.Browser)
	}
	return nil
}
