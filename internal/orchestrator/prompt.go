package orchestrator

import (
	"fmt"
	"strings"

	"scribe-backend/internal/conversation"
)

type TaskType string

const (
	TaskGenerate TaskType = "GENERATE"
	TaskChat     TaskType = "CHAT"
	TaskEdit     TaskType = "EDIT"
)

const taskMarker = "TASK_TYPE:"

// ContextSize is how many window entries are embedded in the enriched prompt.
const ContextSize = 5

// BuildPrompt wraps input with the recent conversation and the task-type instructions
// the response parser relies on.
func BuildPrompt(history []conversation.Message, input string) string {
	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = fmt.Sprintf("%s: %s", m.Role, m.Content)
	}

	var b strings.Builder
	b.WriteString("\nPrevious conversation context:\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nUser input: ")
	b.WriteString(input)
	b.WriteString(`

First, determine if this is a content generation request or a chat conversation.
If it's a content generation request, focus on creating high-quality, structured content.
If it's a chat conversation, provide a detailed and helpful response.
For content editing requests, modify the existing content according to the request.
If the request is not clear, provide a detailed explanation and ask for clarification.
Respond in this format:
TASK_TYPE: [GENERATE | CHAT | EDIT]
[Your response]
`)
	return b.String()
}

func acknowledgePrompt(task TaskType, input string) string {
	verb := "generated"
	if task == TaskEdit {
		verb = "edited"
	}
	return fmt.Sprintf("You've just %s content based on this request: %q\n"+
		"Please provide a helpful response acknowledging the action and asking if they'd like to refine it further.",
		verb, input)
}

// ParseTaskType reads the TASK_TYPE marker from the first non-blank line of text.
// Without a marker the whole text is a CHAT body; an unrecognized value is CHAT with
// the remaining lines as body.
func ParseTaskType(text string) (TaskType, string) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	first, rest, _ := strings.Cut(trimmed, "\n")

	line := strings.Trim(strings.TrimSpace(first), "*_`")
	if len(line) < len(taskMarker) || !strings.EqualFold(line[:len(taskMarker)], taskMarker) {
		return TaskChat, strings.TrimSpace(text)
	}

	value := strings.TrimSpace(line[len(taskMarker):])
	value = strings.Trim(value, "[]*_` ")
	body := strings.TrimSpace(rest)

	switch TaskType(strings.ToUpper(value)) {
	case TaskGenerate:
		return TaskGenerate, body
	case TaskEdit:
		return TaskEdit, body
	default:
		return TaskChat, body
	}
}
