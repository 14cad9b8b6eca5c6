package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scholargraph/scholargraph/internal/util"
	"github.com/scholargraph/scholargraph/pkg/ai"
	"github.com/scholargraph/scholargraph/pkg/cache"
	"github.com/scholargraph/scholargraph/pkg/model"
)

// fakeClient serves canned structured-output responses keyed by request name
// and counts calls, so tests can assert on cache hits and retries.
type fakeClient struct {
	mu        sync.Mutex
	responses map[string]any
	failures  map[string]int
	calls     map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		responses: make(map[string]any),
		failures:  make(map[string]int),
		calls:     make(map[string]int),
	}
}

func (c *fakeClient) Complete(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", errors.New("not implemented")
}

func (c *fakeClient) CompleteJSON(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	c.mu.Lock()
	c.calls[name]++
	fail := c.failures[name] > 0
	if fail {
		c.failures[name]--
	}
	res, ok := c.responses[name]
	c.mu.Unlock()

	if fail {
		return errors.New("backend unavailable")
	}
	if !ok {
		res = extractResponse{Records: []extractRecord{}}
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (c *fakeClient) Embed(ctx context.Context, input string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

var fastRetry = util.RetryPolicy{MaxAttempts: 3, BaseDelay: 0, MaxDelay: 0, Jitter: 0}

func TestExtractDocumentCollectsAllCategories(t *testing.T) {
	client := newFakeClient()
	client.responses["extract_document_metadata"] = metaResponse{
		Title: "Firm Resources and Sustained Competitive Advantage",
		Year:  1991,
	}
	client.responses["extract_theory_records"] = extractResponse{Records: []extractRecord{
		{Name: "Resource-Based View", Role: "primary", Section: "Introduction", Snippet: "we build on the resource-based view"},
	}}
	client.responses["extract_method_records"] = extractResponse{Records: []extractRecord{
		{Name: "Conceptual Analysis", Role: "supporting"},
	}}

	e := NewExtractor(NewExtractorParams{Client: client, Retry: fastRetry})
	result, err := e.ExtractDocument(context.Background(), model.Document{ID: "doc-1", RawText: "some paper text"})
	if err != nil {
		t.Fatal(err)
	}

	if result.Meta.Title == "" || result.Meta.Year != 1991 {
		t.Errorf("metadata not carried through: %+v", result.Meta)
	}
	if len(result.Records[model.CategoryTheory]) != 1 {
		t.Errorf("theory records = %v", result.Records[model.CategoryTheory])
	}
	if got := result.Records[model.CategoryTheory][0]["name"]; got != "Resource-Based View" {
		t.Errorf("name = %v", got)
	}
	// Every category key exists even when empty.
	for _, category := range model.Categories {
		if _, ok := result.Records[category]; !ok {
			t.Errorf("missing collection for %s", category)
		}
	}
}

func TestExtractDocumentEmptyResultIsNotAnError(t *testing.T) {
	e := NewExtractor(NewExtractorParams{Client: newFakeClient(), Retry: fastRetry})
	result, err := e.ExtractDocument(context.Background(), model.Document{ID: "doc-2", RawText: "unrelated text"})
	if err != nil {
		t.Fatalf("valid empty extraction must not fail: %v", err)
	}
	for _, category := range model.Categories {
		if len(result.Records[category]) != 0 {
			t.Errorf("expected no %s records", category)
		}
	}
}

func TestExtractDocumentMetadataFailureDegrades(t *testing.T) {
	client := newFakeClient()
	client.failures["extract_document_metadata"] = fastRetry.MaxAttempts

	e := NewExtractor(NewExtractorParams{Client: client, Retry: fastRetry})
	result, err := e.ExtractDocument(context.Background(), model.Document{ID: "doc-3", RawText: "text"})
	if err != nil {
		t.Fatalf("metadata failure must degrade, not fail the document: %v", err)
	}
	if result.Meta.Title != "" {
		t.Errorf("expected empty metadata, got %+v", result.Meta)
	}
}

func TestExtractDocumentRetriesTransientFailures(t *testing.T) {
	client := newFakeClient()
	client.failures["extract_theory_records"] = 2
	client.responses["extract_theory_records"] = extractResponse{Records: []extractRecord{
		{Name: "Agency Theory"},
	}}

	e := NewExtractor(NewExtractorParams{Client: client, Retry: fastRetry})
	result, err := e.ExtractDocument(context.Background(), model.Document{ID: "doc-4", RawText: "text"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Records[model.CategoryTheory]) != 1 {
		t.Error("expected record after retries")
	}
	if got := client.callCount("extract_theory_records"); got != 3 {
		t.Errorf("call count = %d, want 3", got)
	}
}

// stallingClient never answers: every call blocks until its context expires.
type stallingClient struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *stallingClient) Complete(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", errors.New("not implemented")
}

func (c *stallingClient) CompleteJSON(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	c.mu.Lock()
	c.calls[name]++
	c.mu.Unlock()
	<-ctx.Done()
	return fmt.Errorf("completion aborted: %w", ctx.Err())
}

func (c *stallingClient) Embed(ctx context.Context, input string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func TestExtractDocumentRetriesRequestTimeouts(t *testing.T) {
	client := &stallingClient{calls: make(map[string]int)}

	e := NewExtractor(NewExtractorParams{
		Client:  client,
		Retry:   fastRetry,
		Timeout: 10 * time.Millisecond,
	})
	_, err := e.ExtractDocument(context.Background(), model.Document{ID: "doc-7", RawText: "text"})
	if err == nil {
		t.Fatal("expected failure once every attempt timed out")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want the request deadline error", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if got := client.calls["extract_document_metadata"]; got != fastRetry.MaxAttempts {
		t.Errorf("metadata attempts = %d, want %d", got, fastRetry.MaxAttempts)
	}
	if got := client.calls["extract_theory_records"]; got != fastRetry.MaxAttempts {
		t.Errorf("theory attempts = %d, want %d", got, fastRetry.MaxAttempts)
	}
}

func TestExtractDocumentExhaustedRetriesFail(t *testing.T) {
	client := newFakeClient()
	client.failures["extract_theory_records"] = fastRetry.MaxAttempts + 1

	e := NewExtractor(NewExtractorParams{Client: client, Retry: fastRetry})
	_, err := e.ExtractDocument(context.Background(), model.Document{ID: "doc-5", RawText: "text"})
	if err == nil {
		t.Fatal("expected failure after retries exhausted")
	}
	if !strings.Contains(err.Error(), "theory") {
		t.Errorf("error should name the failing category: %v", err)
	}
}

func TestExtractDocumentUsesCache(t *testing.T) {
	store, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	client := newFakeClient()
	client.responses["extract_theory_records"] = extractResponse{Records: []extractRecord{
		{Name: "Institutional Theory", Role: "primary"},
	}}

	e := NewExtractor(NewExtractorParams{Client: client, Cache: store, Retry: fastRetry})
	doc := model.Document{ID: "doc-6", RawText: "repeated corpus text"}

	first, err := e.ExtractDocument(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.ExtractDocument(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}

	if got := client.callCount("extract_theory_records"); got != 1 {
		t.Errorf("second run should hit the cache, call count = %d", got)
	}
	if len(first.Records[model.CategoryTheory]) != len(second.Records[model.CategoryTheory]) {
		t.Error("cached result differs from fresh result")
	}
}

func TestToRawRecordsOmitsEmptyFields(t *testing.T) {
	res := extractResponse{Records: []extractRecord{
		{Name: "ROA", Section: "Methods"},
		{},
	}}
	raws := toRawRecords(res)
	if len(raws) != 1 {
		t.Fatalf("empty record should be dropped, got %d", len(raws))
	}
	if _, ok := raws[0]["role"]; ok {
		t.Error("empty role must be omitted")
	}
	if raws[0]["section"] != "Methods" {
		t.Errorf("section = %v", raws[0]["section"])
	}
}
