package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

// BenchmarkClient_BuildRequest benchmarks HTTP request construction.
func BenchmarkClient_BuildRequest(b *testing.B) {
	c, _ := NewHTTPProviderClient("test-api-key-12345", "https://provider.test/v1", 2*time.Second)
	params, _ := observationParams(regionRequest())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.buildRequest(ctx, "/observations", params)
	}
}

// BenchmarkClient_DecodeWaterYear benchmarks decoding and mapping one water year of records.
func BenchmarkClient_DecodeWaterYear(b *testing.B) {
	var sb strings.Builder
	sb.WriteString(`{"records":[`)
	start := date(2020, 10, 1)
	for i := 0; i < 365; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, `{"date":%q,"ndsi_snow_cover":%d,"swe_mm":"%d"}`, start.AddDate(0, 0, i).Format(providerDateLayout), i%100, i)
	}
	sb.WriteString(`]}`)
	body := []byte(sb.String())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var resp recordsResponse
		_ = json.Unmarshal(body, &resp)
		_ = mapRecords(resp.Records)
	}
}
