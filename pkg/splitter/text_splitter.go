package splitter

import (
	"fmt"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// TextSplitter wraps the langchaingo text splitter
type TextSplitter struct {
	splitter textsplitter.TextSplitter
}

// NewRecursiveCharacterTextSplitter creates a new recursive character text splitter
func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)

	return &TextSplitter{splitter: ts}
}

// SplitText splits text into chunks
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	return ts.splitter.SplitText(text)
}

// SplitDocuments chunks each text, copying its metadata onto every chunk.
// metadatas must be nil or the same length as texts.
func (ts *TextSplitter) SplitDocuments(texts []string, metadatas []map[string]any) ([]schema.Document, error) {
	if metadatas != nil && len(metadatas) != len(texts) {
		return nil, fmt.Errorf("splitter: %d texts but %d metadata maps", len(texts), len(metadatas))
	}
	return textsplitter.CreateDocuments(ts.splitter, texts, metadatas)
}
