package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultChunkChars = 3000

	systemPrompt = "You are a professional translator. Translate the user's text into %s. " +
		"Preserve the original formatting and line breaks. Output only the translation, nothing else."
)

// OpenAI translates plain-text and markdown documents chunk by chunk through
// an OpenAI-compatible chat completion API, then renders the results as PDF.
type OpenAI struct {
	newClient func(cfg Config) chatClient
}

// chatClient is the slice of the OpenAI client the engine uses. Tests swap
// in a fake.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAI creates the reference engine.
func NewOpenAI() *OpenAI {
	return &OpenAI{
		newClient: func(cfg Config) chatClient {
			c := openai.DefaultConfig(cfg.APIKey)
			if cfg.BaseURL != "" {
				c.BaseURL = cfg.BaseURL
			}
			return openai.NewClientWithConfig(c)
		},
	}
}

// Run starts a translation of the document at inputPath and writes
// <stem>_mono.pdf and <stem>_dual.pdf into outputDir. The returned channel
// closes after a terminal Finish or Failure event.
func (e *OpenAI) Run(ctx context.Context, cfg Config, inputPath, outputDir string) (<-chan Event, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	src, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	events := make(chan Event, 16)
	go e.run(ctx, cfg, string(src), inputPath, outputDir, events)
	return events, nil
}

func (e *OpenAI) run(ctx context.Context, cfg Config, text, inputPath, outputDir string, events chan<- Event) {
	defer close(events)

	emit := func(evt Event) bool {
		select {
		case events <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(detail string) {
		emit(Failure{Detail: detail})
	}

	// Parsing: split the document into translation units.
	emit(Progress{Phase: PhaseStart, Stage: "Parsing", Overall: 0})
	chunks := splitChunks(text, cfg.chunkSize())
	if len(chunks) == 0 {
		fail("document is empty")
		return
	}
	emit(Progress{Phase: PhaseEnd, Stage: "Parsing", Overall: 5, TotalParts: len(chunks)})

	// Translating: one chat completion per chunk.
	client := e.newClient(cfg)
	translated := make([]string, len(chunks))
	emit(Progress{Phase: PhaseStart, Stage: "Translating", Overall: 5, TotalParts: len(chunks), StageTotal: len(chunks)})
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			fail("translation cancelled")
			return
		}
		out, err := translateChunk(ctx, client, cfg, chunk)
		if err != nil {
			fail(fmt.Sprintf("translation request failed: %v", err))
			return
		}
		translated[i] = out

		// Translation occupies the 5-90 band of overall progress.
		done := i + 1
		overall := 5 + done*85/len(chunks)
		emit(Progress{
			Phase:        PhaseUpdate,
			Stage:        "Translating",
			Overall:      overall,
			PartIndex:    done,
			TotalParts:   len(chunks),
			StageCurrent: done,
			StageTotal:   len(chunks),
		})
	}
	emit(Progress{Phase: PhaseEnd, Stage: "Translating", Overall: 90, TotalParts: len(chunks)})

	// Rendering: write the mono and dual PDFs.
	emit(Progress{Phase: PhaseStart, Stage: "Rendering", Overall: 90})
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	monoPath := filepath.Join(outputDir, stem+"_mono.pdf")
	dualPath := filepath.Join(outputDir, stem+"_dual.pdf")

	if err := renderMono(monoPath, translated); err != nil {
		fail(fmt.Sprintf("failed to render output: %v", err))
		return
	}
	if err := renderDual(dualPath, chunks, translated); err != nil {
		fail(fmt.Sprintf("failed to render output: %v", err))
		return
	}
	emit(Progress{Phase: PhaseEnd, Stage: "Rendering", Overall: 100})

	emit(Finish{MonoPath: monoPath, DualPath: dualPath})
}

func (c Config) chunkSize() int {
	if c.ChunkChars > 0 {
		return c.ChunkChars
	}
	return defaultChunkChars
}

func translateChunk(ctx context.Context, client chatClient, cfg Config, chunk string) (string, error) {
	target := cfg.LangOut
	if cfg.LangIn != "" {
		target = fmt.Sprintf("%s (source language: %s)", cfg.LangOut, cfg.LangIn)
	}
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, target)},
			{Role: openai.ChatMessageRoleUser, Content: chunk},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// splitChunks cuts text into pieces of at most maxChars, breaking on
// paragraph boundaries where possible so chunks stay coherent.
func splitChunks(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		// A single oversized paragraph is split hard.
		for len(para) > maxChars {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, para[:maxChars])
			para = para[maxChars:]
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
