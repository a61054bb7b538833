package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fabfab/qa-agent/config"
	"github.com/fabfab/qa-agent/knowledge"
	"github.com/fabfab/qa-agent/llm"
)

func newStore(t *testing.T, embedder wordEmbedder) *knowledge.Store {
	t.Helper()
	store, err := knowledge.Open(context.Background(), knowledge.Options{
		Backend:  config.StoreMemory,
		Embedder: embedder,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDiscountCodeEndToEndWithModelDown(t *testing.T) {
	store := newStore(t, wordEmbedder{})
	_, err := store.Add(context.Background(), []knowledge.Chunk{
		{Text: "Apply discount code SAVE10 for 10% off", SourceID: "promo.md"},
	})
	require.NoError(t, err)

	svc := NewService(store, llm.Unavailable(errors.New("no key")), zaptest.NewLogger(t))
	res, err := svc.GenerateTests(context.Background(), TestsRequest{Query: "test the discount code"})
	require.NoError(t, err)

	require.Len(t, res.TestCases, 1)
	assert.Contains(t, res.TestCases[0].TestScenario, "test the discount code")
	assert.Equal(t, MockSource, res.TestCases[0].GroundedIn)
	assert.Equal(t, WarningMockTests, res.Warning)
	assert.Equal(t, []string{"promo.md"}, res.Sources)
}

func TestChatOnEmptyStore(t *testing.T) {
	store := newStore(t, wordEmbedder{})
	client := &stubClient{text: InsufficientInformation}
	svc := NewService(store, client, nil)

	res, err := svc.Chat(context.Background(), ChatRequest{Query: "what is the refund policy?"})
	require.NoError(t, err)

	assert.NotNil(t, res.Sources)
	assert.Empty(t, res.Sources)
	assert.Equal(t, InsufficientInformation, res.Answer)
	assert.Empty(t, res.Warning)
}

func TestChatOnEmptyStoreWithModelDown(t *testing.T) {
	svc := NewService(newStore(t, wordEmbedder{}), llm.Unavailable(nil), nil)

	res, err := svc.Chat(context.Background(), ChatRequest{Query: "what is the refund policy?"})
	require.NoError(t, err)
	assert.Empty(t, res.Sources)
	assert.Equal(t, MockAnswer, res.Answer)
	assert.Equal(t, WarningLLMDown, res.Warning)
}

func TestGenerateTestsParsesModelOutput(t *testing.T) {
	retriever := &stubRetriever{chunks: []knowledge.Chunk{
		{Text: "SAVE10 gives 10% off", SourceID: "promo.md"},
		{Text: "Codes expire after 30 days", SourceID: "promo.md"},
	}}
	client := &stubClient{text: "```json\n{\"tests\": [{\"Test_ID\": \"TC-1\"}, {\"Test_ID\": \"TC-2\"}]}\n```"}
	svc := NewService(retriever, client, nil)

	res, err := svc.GenerateTests(context.Background(), TestsRequest{Query: "discount", Model: "gemini-2.5-flash"})
	require.NoError(t, err)

	assert.Len(t, res.TestCases, 2)
	assert.Equal(t, []string{"promo.md", "promo.md"}, res.Sources)
	assert.Empty(t, res.Warning)
	assert.Equal(t, 5, retriever.k)
	assert.Equal(t, []string{"gemini-2.5-flash"}, client.models)
	assert.Contains(t, client.lastPrompt(), "Source: promo.md\nContent: Codes expire after 30 days")
}

func TestGenerateTestsParseFailureKeepsSources(t *testing.T) {
	retriever := &stubRetriever{chunks: []knowledge.Chunk{{Text: "x", SourceID: "a.md"}}}
	svc := NewService(retriever, &stubClient{text: "I could not produce JSON"}, zaptest.NewLogger(t))

	res, err := svc.GenerateTests(context.Background(), TestsRequest{Query: "login"})
	require.NoError(t, err)
	assert.NotNil(t, res.TestCases)
	assert.Empty(t, res.TestCases)
	assert.Equal(t, WarningParse, res.Warning)
	assert.Equal(t, []string{"a.md"}, res.Sources)
}

func TestRetrievalEmbeddingFailureDegrades(t *testing.T) {
	retriever := &stubRetriever{err: fmt.Errorf("%w: connection refused", knowledge.ErrEmbedding)}
	svc := NewService(retriever, llm.Unavailable(nil), nil)

	res, err := svc.Chat(context.Background(), ChatRequest{Query: "refund?"})
	require.NoError(t, err)
	assert.Empty(t, res.Sources)
	assert.Equal(t, WarningRetrieval+" "+WarningLLMDown, res.Warning)
}

func TestStoreUnavailableIsHardFailure(t *testing.T) {
	retriever := &stubRetriever{err: fmt.Errorf("%w: disk I/O error", knowledge.ErrStoreUnavailable)}
	svc := NewService(retriever, &stubClient{text: "unused"}, nil)

	_, err := svc.GenerateTests(context.Background(), TestsRequest{Query: "q"})
	assert.ErrorIs(t, err, knowledge.ErrStoreUnavailable)
	_, err = svc.GenerateScript(context.Background(), ScriptRequest{TestCase: "tc"})
	assert.ErrorIs(t, err, knowledge.ErrStoreUnavailable)
	_, err = svc.Chat(context.Background(), ChatRequest{Query: "q"})
	assert.ErrorIs(t, err, knowledge.ErrStoreUnavailable)

	_, err = NewService(nil, nil, nil).Chat(context.Background(), ChatRequest{Query: "q"})
	assert.ErrorIs(t, err, knowledge.ErrStoreUnavailable)
}

func TestEmptyInputsAreInvalid(t *testing.T) {
	svc := NewService(&stubRetriever{}, &stubClient{}, nil)

	_, err := svc.GenerateTests(context.Background(), TestsRequest{Query: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.GenerateScript(context.Background(), ScriptRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Chat(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGenerateScriptUsesTestCaseForRetrieval(t *testing.T) {
	retriever := &stubRetriever{chunks: []knowledge.Chunk{{Text: "coupon field id is coupon", SourceID: "ui.md"}}}
	client := &stubClient{text: "```python\nprint('hi')\n```"}
	svc := NewService(retriever, client, nil)

	testCase := `{"Test_ID": "TC-1", "Test_Scenario": "Apply SAVE10"}`
	res, err := svc.GenerateScript(context.Background(), ScriptRequest{TestCase: testCase, HTMLContent: "<input id='coupon'>"})
	require.NoError(t, err)

	assert.Equal(t, "print('hi')", res.Script)
	assert.Equal(t, []string{"ui.md"}, res.Sources)
	assert.Equal(t, testCase, retriever.query)
	assert.Equal(t, 3, retriever.k)
	assert.Contains(t, client.lastPrompt(), `driver.get("http://example.com")`)
}

func TestGenerateScriptFallback(t *testing.T) {
	svc := NewService(&stubRetriever{}, llm.Unavailable(nil), nil)

	res, err := svc.GenerateScript(context.Background(), ScriptRequest{TestCase: "Verify login with valid password"})
	require.NoError(t, err)
	assert.Equal(t, "# LLM not reachable. Mock script.\nfrom selenium import webdriver\n\nprint('Mock script for: Verify login with va...')", res.Script)
	assert.Equal(t, WarningLLMDown, res.Warning)
}

type stubFetcher struct {
	html string
	err  error
	url  string
}

func (f *stubFetcher) FetchHTML(_ context.Context, url string) (string, error) {
	f.url = url
	return f.html, f.err
}

func TestGenerateScriptFetchesMissingHTML(t *testing.T) {
	fetcher := &stubFetcher{html: `<button id="apply-coupon">Apply</button>`}
	client := &stubClient{text: "code"}
	svc := NewService(&stubRetriever{}, client, nil, WithHTMLFetcher(fetcher))

	_, err := svc.GenerateScript(context.Background(), ScriptRequest{TestCase: "tc", TargetURL: "https://shop.test"})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test", fetcher.url)
	assert.Contains(t, client.lastPrompt(), `<button id="apply-coupon">`)

	fetcher.url = ""
	_, err = svc.GenerateScript(context.Background(), ScriptRequest{TestCase: "tc", HTMLContent: "<p>given</p>"})
	require.NoError(t, err)
	assert.Empty(t, fetcher.url)
}

func TestGenerateScriptFetchFailureContinues(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("chrome not installed")}
	svc := NewService(&stubRetriever{}, &stubClient{text: "code"}, nil, WithHTMLFetcher(fetcher))

	res, err := svc.GenerateScript(context.Background(), ScriptRequest{TestCase: "tc"})
	require.NoError(t, err)
	assert.Equal(t, "code", res.Script)
	assert.Empty(t, res.Warning)
}

func TestWithDepthsAndDefaultModel(t *testing.T) {
	retriever := &stubRetriever{}
	client := &stubClient{text: "answer"}
	svc := NewService(retriever, client, nil, WithDepths(Depths{Chat: 2}), WithDefaultModel("llama3.1:8b"))

	_, err := svc.Chat(context.Background(), ChatRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 2, retriever.k)
	assert.Equal(t, []string{"llama3.1:8b"}, client.models)

	_, err = svc.GenerateTests(context.Background(), TestsRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 5, retriever.k)
}

func TestRoundTripRetrievesIngestedPhrase(t *testing.T) {
	store := newStore(t, wordEmbedder{})
	_, err := store.Add(context.Background(), []knowledge.Chunk{
		{Text: "Passwords must be reset via the login page.", SourceID: "auth.md"},
		{Text: "Refunds are processed within 14 days.", SourceID: "refund.md"},
		{Text: "Shipping takes 3 days.", SourceID: "ship.md"},
	})
	require.NoError(t, err)

	retrieved, err := BuildContext(context.Background(), store, "Refunds are processed within 14 days", 3)
	require.NoError(t, err)
	require.NotEmpty(t, retrieved.Chunks)
	assert.Equal(t, "refund.md", retrieved.Sources[0])
	assert.Contains(t, retrieved.Chunks[0].Text, "Refunds are processed within 14 days")
}
