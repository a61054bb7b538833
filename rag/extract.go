package rag

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"regexp"
	"slices"
	"strings"
)

const WarningParse = "Failed to parse LLM response. Check backend logs for raw output."

// unwrapKeys are tried in this order when the model wraps its list in an
// object.
var unwrapKeys = []string{"test_cases", "tests", "result", "response"}

var fencePattern = regexp.MustCompile("(?s)```[ \\t]*([A-Za-z0-9_+.-]*)[ \\t]*\\r?\\n(.*?)```")

// ParseResult is either Parsed or Unparseable.
type ParseResult interface {
	isParseResult()
}

type Parsed struct {
	Value any
}

type Unparseable struct {
	Raw string
	Err error
}

func (Parsed) isParseResult()      {}
func (Unparseable) isParseResult() {}

type fence struct {
	tag  string
	body string
}

func findFences(raw string) []fence {
	matches := fencePattern.FindAllStringSubmatch(raw, -1)
	fences := make([]fence, len(matches))
	for i, m := range matches {
		fences[i] = fence{tag: strings.ToLower(m[1]), body: strings.TrimSpace(m[2])}
	}
	return fences
}

// JSONCandidate returns the interior of the first json-tagged or untagged
// fence, or raw itself when there is none.
func JSONCandidate(raw string) string {
	for _, f := range findFences(raw) {
		if f.tag == "json" || f.tag == "" {
			return f.body
		}
	}
	return raw
}

// ParseJSON strictly decodes exactly one JSON value.
func ParseJSON(candidate string) ParseResult {
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return Unparseable{Raw: candidate, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Unparseable{Raw: candidate, Err: fmt.Errorf("trailing data after JSON value")}
	}
	return Parsed{Value: value}
}

// ExtractTestCases maps model output to test cases. The warning is empty on
// success and WarningParse when nothing usable was found.
func ExtractTestCases(raw string) ([]TestCase, string) {
	switch r := ParseJSON(JSONCandidate(raw)).(type) {
	case Parsed:
		cases, ok := toTestCases(r.Value)
		if !ok {
			return []TestCase{}, WarningParse
		}
		return cases, ""
	default:
		return []TestCase{}, WarningParse
	}
}

func toTestCases(value any) ([]TestCase, bool) {
	switch v := value.(type) {
	case []any:
		return convertList(v), true
	case map[string]any:
		for _, key := range unwrapKeys {
			if list, ok := v[key].([]any); ok {
				return convertList(list), true
			}
		}
		return []TestCase{convertObject(v)}, true
	default:
		return nil, false
	}
}

func convertList(items []any) []TestCase {
	cases := make([]TestCase, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			cases = append(cases, convertObject(obj))
			continue
		}
		cases = append(cases, TestCase{TestScenario: jsonText(item)})
	}
	return cases
}

func convertObject(obj map[string]any) TestCase {
	return TestCase{
		TestID:         textField(obj, "Test_ID"),
		Feature:        textField(obj, "Feature"),
		TestScenario:   textField(obj, "Test_Scenario"),
		ExpectedResult: lookup(obj, "Expected_Result"),
		GroundedIn:     textField(obj, "Grounded_In"),
	}
}

// lookup prefers an exact key and falls back to a case-insensitive match.
func lookup(obj map[string]any, key string) any {
	if v, ok := obj[key]; ok {
		return v
	}
	for _, k := range slices.Sorted(maps.Keys(obj)) {
		if strings.EqualFold(k, key) {
			return obj[k]
		}
	}
	return nil
}

func textField(obj map[string]any, key string) string {
	switch v := lookup(obj, key).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return jsonText(v)
	}
}

func jsonText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// ExtractScript returns the first python-tagged fence, else the first
// untagged fence, else raw unmodified.
func ExtractScript(raw string) string {
	fences := findFences(raw)
	for _, f := range fences {
		if isPythonTag(f.tag) {
			return f.body
		}
	}
	for _, f := range fences {
		if f.tag == "" {
			return f.body
		}
	}
	return raw
}

// isPythonTag accepts py, py3 and versioned python tags such as python3.
func isPythonTag(tag string) bool {
	return tag == "py" || tag == "py3" || strings.HasPrefix(tag, "python")
}

// ExtractAnswer returns chat output verbatim.
func ExtractAnswer(raw string) string {
	return raw
}
