//go:build integration
// +build integration

package client

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/snow-season-service/internal/models"
)

func integrationClient(t *testing.T) *HTTPProviderClient {
	t.Helper()
	apiKey := os.Getenv("PROVIDER_API_KEY")
	if apiKey == "" {
		t.Skip("PROVIDER_API_KEY not set, skipping integration test")
	}
	baseURL := os.Getenv("PROVIDER_URL")
	if baseURL == "" {
		t.Skip("PROVIDER_URL not set, skipping integration test")
	}
	c, err := NewHTTPProviderClient(apiKey, baseURL, 30*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPProviderClient() error = %v", err)
	}
	return c
}

func TestHTTPProviderClient_ValidateAPIKey_Integration(t *testing.T) {
	c := integrationClient(t)
	if err := c.ValidateAPIKey(context.Background()); err != nil {
		t.Errorf("ValidateAPIKey() error = %v, want nil", err)
	}
}

func TestHTTPProviderClient_FetchObservations_Integration(t *testing.T) {
	c := integrationClient(t)
	ctx := context.Background()

	regions, err := c.ListRegions(ctx)
	if err != nil {
		t.Fatalf("ListRegions() error = %v", err)
	}
	if len(regions) == 0 {
		t.Skip("provider lists no regions")
	}

	records, err := c.FetchObservations(ctx, models.ObservationRequest{
		RegionID:  regions[0].ID,
		Start:     time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2021, 1, 31, 0, 0, 0, 0, time.UTC),
		Variables: []models.Variable{models.VariableSnowCover},
	})
	if err != nil {
		t.Fatalf("FetchObservations(%s) error = %v", regions[0].ID, err)
	}
	for _, r := range records {
		if r.Date.Before(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)) || r.Date.After(time.Date(2021, 1, 31, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("record date %s outside requested range", r.Date.Format(providerDateLayout))
		}
	}
}
