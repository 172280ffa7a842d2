package rag

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"

	"docqa/internal/vectorstore"
)

var condensePrompt = prompts.NewPromptTemplate(
	`Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

Chat History:
{{.history}}
Follow Up Input: {{.question}}
Standalone question:`,
	[]string{"history", "question"},
)

var answerPrompt = prompts.NewPromptTemplate(
	`You are a helpful assistant. Answer the question based only on the following context. If the context does not contain enough information, say so. Do not make up facts.

Context:
{{.context}}

Chat History:
{{.history}}

Question: {{.question}}
Answer:`,
	[]string{"context", "history", "question"},
)

func renderHistory(msgs []llms.ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.GetType() {
		case llms.ChatMessageTypeHuman:
			b.WriteString("Human: ")
		case llms.ChatMessageTypeAI:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(m.GetContent())
		b.WriteString("\n")
	}
	return b.String()
}

func renderContext(docs []schema.Document) string {
	if len(docs) == 0 {
		return "(no relevant content found)"
	}
	var b strings.Builder
	for _, d := range docs {
		b.WriteString("---\n")
		if name, ok := d.Metadata[vectorstore.MetaFilename].(string); ok && name != "" {
			fmt.Fprintf(&b, "[%s]\n", name)
		}
		b.WriteString(d.PageContent)
		b.WriteString("\n")
	}
	b.WriteString("---")
	return b.String()
}
