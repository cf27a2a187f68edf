package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	p, err := NewProvider(ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	counter, err := p.MeterProvider.Meter("observe_test").Int64Counter("interruptions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	counter.Add(context.Background(), 3)

	recorder := httptest.NewRecorder()
	p.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(recorder.Result().Body)
	if !strings.Contains(string(body), "interruptions_total") {
		t.Fatalf("expected interruptions counter in scrape output, got:\n%s", body)
	}
}

func TestShutdownIsSafeWithoutRecordedData(t *testing.T) {
	p, err := NewProvider(ProviderConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}
