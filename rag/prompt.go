package rag

import (
	"fmt"
	"strings"

	"github.com/fabfab/qa-agent/llm"
)

// InsufficientInformation is the sentence the chat prompt asks for when the
// context does not hold the answer.
const InsufficientInformation = "I don't have enough information in the provided documents."

// Inputs carries the task-specific values substituted into a template.
type Inputs struct {
	Query     string
	TestCase  string
	HTML      string
	TargetURL string
}

type Prompt struct {
	System string
	User   string
}

func (p Prompt) Messages() []llm.Message {
	messages := make([]llm.Message, 0, 2)
	if p.System != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: p.System})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: p.User})
}

// Compose fills the template for task. It never fails; an unknown task yields
// the chat template.
func Compose(task Task, context string, in Inputs) Prompt {
	switch task {
	case TaskTestGeneration:
		return Prompt{System: testSystemPrompt(), User: testUserPrompt(context, in.Query)}
	case TaskScriptGeneration:
		return Prompt{System: scriptSystemPrompt(), User: scriptUserPrompt(context, in)}
	default:
		return Prompt{System: chatSystemPrompt(), User: chatUserPrompt(context, in.Query)}
	}
}

func testSystemPrompt() string {
	return "You are an expert QA Automation Engineer. You write comprehensive software test cases based strictly on the documentation you are given."
}

func testUserPrompt(context, query string) string {
	var sb strings.Builder
	writeContext(&sb, "Context", context)
	sb.WriteString("User Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nInstructions:\n")
	sb.WriteString("1. Generate test cases as a JSON array.\n")
	sb.WriteString("2. Each test case must have the fields Test_ID, Feature, Test_Scenario, Expected_Result and Grounded_In (the source document it is based on).\n")
	sb.WriteString("3. Ground every test case strictly in the context. Do NOT invent features that the context does not describe.\n")
	sb.WriteString("4. Output ONLY the JSON array of test cases.\n")
	return sb.String()
}

func scriptSystemPrompt() string {
	return "You are an expert Selenium Python Automation Engineer. You write reliable browser automation scripts."
}

func scriptUserPrompt(context string, in Inputs) string {
	var sb strings.Builder
	sb.WriteString("Task: Write a Selenium Python script that automates the following test case.\n\n")
	sb.WriteString("Test Case:\n")
	sb.WriteString(in.TestCase)
	sb.WriteString("\n\nTarget URL: ")
	sb.WriteString(in.TargetURL)
	sb.WriteString("\n\n")
	writeContext(&sb, "Target HTML Page Source", in.HTML)
	writeContext(&sb, "Additional Context (Rules/Data)", context)
	sb.WriteString("Instructions:\n")
	sb.WriteString("1. Use webdriver.Chrome() and assume chromedriver is on the PATH.\n")
	fmt.Fprintf(&sb, "2. Start by navigating to the Target URL: driver.get(%q)\n", in.TargetURL)
	sb.WriteString("3. Use explicit waits (WebDriverWait) for stability.\n")
	sb.WriteString("4. Use specific selectors taken from the provided HTML (ID, Name, CSS).\n")
	sb.WriteString("5. Include assertions that verify the Expected Result.\n")
	sb.WriteString("6. Output ONLY the Python code, with no prose and no markdown formatting.\n")
	return sb.String()
}

func chatSystemPrompt() string {
	return "You are a helpful assistant for a QA team. You answer questions based strictly on the provided context."
}

func chatUserPrompt(context, question string) string {
	var sb strings.Builder
	writeContext(&sb, "Context", context)
	sb.WriteString("User Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nInstructions:\n")
	sb.WriteString("1. Answer clearly and concisely.\n")
	fmt.Fprintf(&sb, "2. If the answer is not in the context, say %q\n", InsufficientInformation)
	return sb.String()
}

func writeContext(sb *strings.Builder, label, body string) {
	sb.WriteString(label)
	sb.WriteString(":\n")
	sb.WriteString(body)
	sb.WriteString("\n\n")
}
