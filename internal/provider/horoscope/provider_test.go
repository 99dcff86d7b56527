package horoscope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zodiaclab/starledger/pkg/billing"
)

const completionText = "A bright day lies ahead."

type modelHandler struct {
	mutex    sync.Mutex
	statuses map[string][]int
	requests []string
}

func (handler *modelHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	handler.mutex.Lock()
	defer handler.mutex.Unlock()

	// Path shape: /v1beta/models/<model>:generateContent
	segments := strings.Split(strings.TrimPrefix(request.URL.Path, "/v1beta/models/"), ":")
	model := segments[0]
	handler.requests = append(handler.requests, model)

	queue := handler.statuses[model]
	status := http.StatusOK
	if len(queue) > 0 {
		status = queue[0]
		handler.statuses[model] = queue[1:]
	}
	if status != http.StatusOK {
		writer.WriteHeader(status)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	response := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{"content": map[string]interface{}{"parts": []map[string]string{{"text": completionText}}}},
		},
	}
	_ = json.NewEncoder(writer).Encode(response)
}

func (handler *modelHandler) servedModels() []string {
	handler.mutex.Lock()
	defer handler.mutex.Unlock()
	return append([]string(nil), handler.requests...)
}

func newTestClient(test *testing.T, handler http.Handler, models []string) (*Client, *httptest.Server) {
	test.Helper()
	server := httptest.NewServer(handler)
	test.Cleanup(server.Close)
	client, err := NewClient(Config{
		BaseURL:       server.URL,
		APIKey:        "test-key",
		Models:        models,
		HTTPTimeout:   5 * time.Second,
		RetryAttempts: 1,
	}, WithHTTPClient(server.Client()))
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	return client, server
}

func TestGenerateReturnsCompletion(test *testing.T) {
	test.Parallel()
	handler := &modelHandler{statuses: map[string][]int{}}
	client, _ := newTestClient(test, handler, []string{"model-a"})

	content, err := client.Generate(context.Background(), billing.ServiceDailyHoroscope, billing.Params{billing.ParamSign: "leo"})
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if content != completionText {
		test.Fatalf("expected %q, got %q", completionText, content)
	}
}

func TestGenerateFallsBackAcrossModels(test *testing.T) {
	test.Parallel()
	handler := &modelHandler{statuses: map[string][]int{
		"model-a": {http.StatusNotFound, http.StatusNotFound},
		"model-b": {},
	}}
	client, _ := newTestClient(test, handler, []string{"model-a", "model-b"})

	content, err := client.Generate(context.Background(), billing.ServiceWeeklyHoroscope, billing.Params{billing.ParamSign: "virgo"})
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if content != completionText {
		test.Fatalf("expected fallback completion, got %q", content)
	}
	served := handler.servedModels()
	if served[0] != "model-a" || served[len(served)-1] != "model-b" {
		test.Fatalf("expected fallback from model-a to model-b, got %v", served)
	}
}

func TestGenerateRetriesTransientFailures(test *testing.T) {
	test.Parallel()
	handler := &modelHandler{statuses: map[string][]int{
		"model-a": {http.StatusServiceUnavailable},
	}}
	client, _ := newTestClient(test, handler, []string{"model-a"})

	content, err := client.Generate(context.Background(), billing.ServiceDailyHoroscope, billing.Params{billing.ParamSign: "aries"})
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if content != completionText {
		test.Fatalf("expected completion after retry, got %q", content)
	}
	if served := handler.servedModels(); len(served) != 2 {
		test.Fatalf("expected one retry (2 requests), got %d", len(served))
	}
}

func TestGenerateAllModelsFailing(test *testing.T) {
	test.Parallel()
	handler := &modelHandler{statuses: map[string][]int{
		"model-a": {http.StatusNotFound},
		"model-b": {http.StatusNotFound},
	}}
	client, _ := newTestClient(test, handler, []string{"model-a", "model-b"})

	_, err := client.Generate(context.Background(), billing.ServiceDailyHoroscope, billing.Params{billing.ParamSign: "aries"})
	if !errors.Is(err, ErrAllModelsFailed) {
		test.Fatalf("expected ErrAllModelsFailed, got %v", err)
	}
}

func TestGenerateTarotPrependsDrawnSpread(test *testing.T) {
	test.Parallel()
	handler := &modelHandler{statuses: map[string][]int{}}
	client, _ := newTestClient(test, handler, []string{"model-a"})

	content, err := client.Generate(context.Background(), billing.ServiceTarot, billing.Params{billing.ParamSpread: "three"})
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(content, "Past, Present, Future\n") {
		test.Fatalf("expected spread title preamble, got %q", content)
	}
	for _, position := range []string{"Past:", "Present:", "Future:"} {
		if !strings.Contains(content, position) {
			test.Fatalf("expected drawn position %q in content: %q", position, content)
		}
	}
	if !strings.HasSuffix(content, completionText) {
		test.Fatalf("expected completion appended after spread, got %q", content)
	}
}

func TestGenerateSendsPromptAndAPIKey(test *testing.T) {
	test.Parallel()
	var capturedKey string
	var capturedBody generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		capturedKey = request.Header.Get(headerAPIKey)
		_ = json.NewDecoder(request.Body).Decode(&capturedBody)
		writer.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(writer, `{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, completionText)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL: server.URL,
		APIKey:  "secret-key",
		Models:  []string{"model-a"},
	}, WithHTTPClient(server.Client()))
	if err != nil {
		test.Fatalf("new client: %v", err)
	}

	if _, err := client.Generate(context.Background(), billing.ServiceCompatibility, billing.Params{
		billing.ParamFirstSign:  "aries",
		billing.ParamSecondSign: "leo",
	}); err != nil {
		test.Fatalf("generate: %v", err)
	}
	if capturedKey != "secret-key" {
		test.Fatalf("expected api key header, got %q", capturedKey)
	}
	if len(capturedBody.Contents) != 1 || len(capturedBody.Contents[0].Parts) != 1 {
		test.Fatalf("unexpected request shape: %+v", capturedBody)
	}
	prompt := capturedBody.Contents[0].Parts[0].Text
	if !strings.Contains(prompt, "aries") || !strings.Contains(prompt, "leo") {
		test.Fatalf("expected both signs in prompt, got %q", prompt)
	}
}

func TestNewClientRequiresAPIKey(test *testing.T) {
	test.Parallel()
	if _, err := NewClient(Config{}); !errors.Is(err, ErrInvalidClientConfig) {
		test.Fatalf("expected ErrInvalidClientConfig, got %v", err)
	}
}

func TestConfigValidateAppliesDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{APIKey: "key"}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.BaseURL != defaultBaseURL {
		test.Fatalf("expected default base url, got %q", cfg.BaseURL)
	}
	if len(cfg.Models) != len(DefaultModels()) {
		test.Fatalf("expected default model list, got %v", cfg.Models)
	}
	if cfg.HTTPTimeout != defaultHTTPTimeout {
		test.Fatalf("expected default timeout, got %s", cfg.HTTPTimeout)
	}
}
