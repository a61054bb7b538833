// Package rag turns a question about the ingested documents into a grounded
// result: retrieval, prompt composition, generation with fallback, and
// extraction of the task's output shape.
package rag

// Task selects the prompt template, fallback and extraction rule.
type Task int

const (
	TaskTestGeneration Task = iota + 1
	TaskScriptGeneration
	TaskChat
)

func (t Task) String() string {
	switch t {
	case TaskTestGeneration:
		return "test_generation"
	case TaskScriptGeneration:
		return "script_generation"
	case TaskChat:
		return "chat"
	default:
		return "unknown"
	}
}

// TestCase is one generated test. ExpectedResult keeps whatever JSON value the
// model produced, usually a string.
type TestCase struct {
	TestID         string `json:"Test_ID"`
	Feature        string `json:"Feature"`
	TestScenario   string `json:"Test_Scenario"`
	ExpectedResult any    `json:"Expected_Result"`
	GroundedIn     string `json:"Grounded_In"`
}

type TestCasesResult struct {
	TestCases []TestCase `json:"result"`
	Sources   []string   `json:"context"`
	Warning   string     `json:"warning,omitempty"`
}

type ScriptResult struct {
	Script  string   `json:"script"`
	Sources []string `json:"context"`
	Warning string   `json:"warning,omitempty"`
}

type ChatResult struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"context"`
	Warning string   `json:"warning,omitempty"`
}

type TestsRequest struct {
	Query string `json:"query"`
	Model string `json:"model"`
}

type ScriptRequest struct {
	TestCase    string `json:"test_case"`
	HTMLContent string `json:"html_content"`
	TargetURL   string `json:"target_url"`
	Model       string `json:"model"`
}

type ChatRequest struct {
	Query string `json:"query"`
	Model string `json:"model"`
}
