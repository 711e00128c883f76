package backend

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mizutome/ragbench/model"
)

// DefaultPromptTemplate is the generation prompt. {context} receives the
// numbered document blocks, {question} the user's question.
const DefaultPromptTemplate = `以下のコンテキストに基づいて質問に回答してください。

コンテキスト:
{context}

質問: {question}

回答:`

// PromptTemplate renders a question and its retrieved documents into one
// generation prompt. MaxContextRunes caps the rendered context, documents
// are cut at sentence boundaries and never mid-sentence.
type PromptTemplate struct {
	Template        string
	MaxContextRunes int
}

// NewPromptTemplate returns the default template with an 8000 rune context cap.
func NewPromptTemplate() *PromptTemplate {
	return &PromptTemplate{
		Template:        DefaultPromptTemplate,
		MaxContextRunes: 8000,
	}
}

// Render builds the full prompt for a question and its context documents.
func (p *PromptTemplate) Render(question string, contexts []*model.RankedDocument) string {
	prompt := strings.ReplaceAll(p.Template, "{context}", p.renderContext(contexts))
	prompt = strings.ReplaceAll(prompt, "{question}", question)
	return prompt
}

func (p *PromptTemplate) renderContext(contexts []*model.RankedDocument) string {
	if len(contexts) == 0 {
		return "(コンテキストなし)"
	}

	unlimited := p.MaxContextRunes <= 0

	var blocks []string
	remaining := p.MaxContextRunes
	for i, ranked := range contexts {
		header := fmt.Sprintf("[ドキュメント%d]\n", i+1)
		text := ranked.Document.Content
		if !unlimited {
			budget := remaining - utf8.RuneCountInString(header)
			if budget <= 0 {
				break
			}
			text = truncateAtSentence(text, budget)
			if text == "" {
				break
			}
			remaining -= utf8.RuneCountInString(header) + utf8.RuneCountInString(text)
		}

		blocks = append(blocks, header+text)
	}

	return strings.Join(blocks, "\n\n")
}

// truncateAtSentence cuts text to at most maxRunes runes, preferring the
// last full sentence. Both Japanese and Latin terminators end sentences.
func truncateAtSentence(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}

	cut := 0
	for i := 0; i < maxRunes; i++ {
		switch runes[i] {
		case '。', '！', '？', '.', '!', '?':
			cut = i + 1
		}
	}
	if cut == 0 {
		// No sentence boundary within the budget, cut hard.
		cut = maxRunes
	}

	return strings.TrimSpace(string(runes[:cut]))
}
