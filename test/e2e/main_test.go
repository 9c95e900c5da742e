// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package e2e

import (
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

var serviceURL string

func TestMain(m *testing.M) {
	// Requires a running stack (query service + Weaviate + an OpenAI-compatible
	// endpoint). Skip everything when the URL is not provided.
	serviceURL = os.Getenv("QUERY_SERVICE_URL")
	if serviceURL == "" {
		fmt.Println("QUERY_SERVICE_URL not set, skipping e2e tests")
		os.Exit(0)
	}

	// Wait for the service to come up.
	client := &http.Client{Timeout: 2 * time.Second}
	for i := 0; i < 15; i++ {
		resp, err := client.Get(serviceURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		time.Sleep(2 * time.Second)
	}

	os.Exit(m.Run())
}
