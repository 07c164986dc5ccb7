// Command healthcheck probes the local openmic server for container health
// checks. It exits non-zero unless the probed endpoint answers 200.
//
// HEALTHCHECK_URL overrides the default http://localhost:8080/healthz;
// point it at /readyz to also require the database and YouTube credentials.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	url := os.Getenv("HEALTHCHECK_URL")
	if url == "" {
		url = "http://localhost:8080/healthz"
	}
	os.Exit(probe(context.Background(), &http.Client{Timeout: 3 * time.Second}, url))
}

func probe(ctx context.Context, client *http.Client, url string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 1
	}
	resp, err := client.Do(req)
	if err != nil {
		return 1
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
