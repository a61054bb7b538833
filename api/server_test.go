package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fabfab/qa-agent/config"
	"github.com/fabfab/qa-agent/ingestion"
	"github.com/fabfab/qa-agent/knowledge"
	"github.com/fabfab/qa-agent/llm"
	"github.com/fabfab/qa-agent/rag"
)

type stubPipeline struct {
	tests  rag.TestCasesResult
	script rag.ScriptResult
	chat   rag.ChatResult
	err    error

	gotTests  rag.TestsRequest
	gotScript rag.ScriptRequest
}

func (p *stubPipeline) GenerateTests(_ context.Context, req rag.TestsRequest) (rag.TestCasesResult, error) {
	p.gotTests = req
	return p.tests, p.err
}

func (p *stubPipeline) GenerateScript(_ context.Context, req rag.ScriptRequest) (rag.ScriptResult, error) {
	p.gotScript = req
	return p.script, p.err
}

func (p *stubPipeline) Chat(_ context.Context, _ rag.ChatRequest) (rag.ChatResult, error) {
	return p.chat, p.err
}

type recordingIngester struct {
	paths  []string
	exists []bool
	report ingestion.Report
	err    error
}

func (i *recordingIngester) IngestFiles(_ context.Context, paths []string) (ingestion.Report, error) {
	i.paths = paths
	for _, p := range paths {
		_, err := os.Stat(p)
		i.exists = append(i.exists, err == nil)
	}
	return i.report, i.err
}

type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(len(texts[i]) % 7)}
	}
	return out, nil
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	srv := New(&stubPipeline{}, &recordingIngester{}, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"ok"}`, rec.Body.String())
}

func TestOpenAPISpecIsServed(t *testing.T) {
	srv := New(&stubPipeline{}, &recordingIngester{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "yaml")
	for _, path := range []string{"/ingest:", "/generate-tests:", "/generate-script:", "/chat:"} {
		assert.Contains(t, rec.Body.String(), path)
	}
}

func TestGenerateTestsResponseShape(t *testing.T) {
	pipeline := &stubPipeline{tests: rag.TestCasesResult{
		TestCases: []rag.TestCase{{TestID: "TC-1", Feature: "Discount", TestScenario: "Apply SAVE10", ExpectedResult: "10% off", GroundedIn: "promo.md"}},
		Sources:   []string{"promo.md"},
	}}
	srv := New(pipeline, &recordingIngester{}, nil)

	rec := postJSON(t, srv, "/generate-tests", `{"query": "discount", "model": "gemini-2.5-pro"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"result": [{"Test_ID": "TC-1", "Feature": "Discount", "Test_Scenario": "Apply SAVE10", "Expected_Result": "10% off", "Grounded_In": "promo.md"}],
		"context": ["promo.md"]
	}`, rec.Body.String())
	assert.Equal(t, rag.TestsRequest{Query: "discount", Model: "gemini-2.5-pro"}, pipeline.gotTests)
}

func TestGenerateScriptPassesFields(t *testing.T) {
	pipeline := &stubPipeline{script: rag.ScriptResult{Script: "print(1)", Sources: []string{}, Warning: rag.WarningLLMDown}}
	srv := New(pipeline, &recordingIngester{}, nil)

	rec := postJSON(t, srv, "/generate-script", `{"test_case": "{}", "html_content": "<p/>", "target_url": "https://x.test", "model": "m"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"script": "print(1)", "context": [], "warning": "LLM was not reachable."}`, rec.Body.String())
	assert.Equal(t, rag.ScriptRequest{TestCase: "{}", HTMLContent: "<p/>", TargetURL: "https://x.test", Model: "m"}, pipeline.gotScript)
}

func TestMalformedBodiesAreBadRequests(t *testing.T) {
	srv := New(&stubPipeline{}, &recordingIngester{}, nil)

	for _, body := range []string{"", "{", `["query"]`, `{"query": "a"} {"query": "b"}`} {
		rec := postJSON(t, srv, "/chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestUnknownBodyFieldsAreIgnored(t *testing.T) {
	pipeline := &stubPipeline{tests: rag.TestCasesResult{TestCases: []rag.TestCase{}, Sources: []string{}}}
	srv := New(pipeline, &recordingIngester{}, nil)

	rec := postJSON(t, srv, "/generate-tests", `{"query": "discount", "limit": 3, "temperature": 0.2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, rag.TestsRequest{Query: "discount"}, pipeline.gotTests)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: query cannot be empty", rag.ErrInvalidRequest): http.StatusBadRequest,
		fmt.Errorf("retrieve: %w", knowledge.ErrStoreUnavailable):      http.StatusServiceUnavailable,
		fmt.Errorf("something else"):                                   http.StatusInternalServerError,
	}
	for err, want := range cases {
		srv := New(&stubPipeline{err: err}, &recordingIngester{}, nil)
		rec := postJSON(t, srv, "/chat", `{"query": "q"}`)
		assert.Equal(t, want, rec.Code, err.Error())

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, err.Error(), body["error"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := New(&stubPipeline{}, &recordingIngester{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIngestSavesUploadsUnderBaseNameAndCleansUp(t *testing.T) {
	ingester := &recordingIngester{report: ingestion.Report{Files: 2, Loaded: 2, Chunks: 3}}
	srv := New(&stubPipeline{}, ingester, nil)

	body, contentType := multipartBody(t, map[string]string{
		"../../etc/promo.md": "SAVE10",
		"faq.txt":            "Shipping",
	})
	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message": "Successfully ingested 2 files. Created 3 chunks."}`, rec.Body.String())

	require.Len(t, ingester.paths, 2)
	assert.Equal(t, []bool{true, true}, ingester.exists)
	names := map[string]bool{}
	for _, p := range ingester.paths {
		names[p[strings.LastIndex(p, string(os.PathSeparator))+1:]] = true
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "upload %s should be removed", p)
	}
	assert.Equal(t, map[string]bool{"promo.md": true, "faq.txt": true}, names)
}

func TestIngestRequiresFiles(t *testing.T) {
	srv := New(&stubPipeline{}, &recordingIngester{}, nil)

	body, contentType := multipartBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, srv, "/ingest", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndToEndWithModelUnavailable(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store, err := knowledge.Open(context.Background(), knowledge.Options{Backend: config.StoreMemory, Embedder: constEmbedder{}})
	require.NoError(t, err)
	defer store.Close()

	pipeline := rag.NewService(store, llm.Unavailable(nil), logger)
	srv := New(pipeline, ingestion.NewService(store, logger), logger)

	body, contentType := multipartBody(t, map[string]string{"promo.md": "Apply discount code SAVE10 for 10% off"})
	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message": "Successfully ingested 1 files. Created 1 chunks."}`, rec.Body.String())

	rec = postJSON(t, srv, "/generate-tests", `{"query": "test the discount code"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Result  []map[string]any `json:"result"`
		Context []string         `json:"context"`
		Warning string           `json:"warning"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Result, 1)
	assert.Equal(t, "Mock Scenario based on test the discount code", res.Result[0]["Test_Scenario"])
	assert.Equal(t, rag.MockSource, res.Result[0]["Grounded_In"])
	assert.Equal(t, []string{"promo.md"}, res.Context)
	assert.Equal(t, rag.WarningMockTests, res.Warning)

	rec = postJSON(t, srv, "/chat", `{"query": "what is the refund policy?", "model": "gemini-flash-latest"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), rag.MockAnswer)
}
