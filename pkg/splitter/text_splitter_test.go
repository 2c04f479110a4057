package splitter

import (
	"strings"
	"testing"
)

func TestSplitDocuments(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(40, 0)
	long := strings.Repeat("wireless headphones ", 10)

	docs, err := ts.SplitDocuments(
		[]string{"short summary", long},
		[]map[string]any{{"source": "https://a.example"}, {"source": "https://b.example"}},
	)
	if err != nil {
		t.Fatalf("SplitDocuments error: %v", err)
	}
	if len(docs) < 3 {
		t.Fatalf("docs = %d, want the long text split into several chunks", len(docs))
	}
	if docs[0].PageContent != "short summary" || docs[0].Metadata["source"] != "https://a.example" {
		t.Errorf("first doc = %+v", docs[0])
	}
	for _, d := range docs[1:] {
		if d.Metadata["source"] != "https://b.example" {
			t.Errorf("chunk metadata = %v", d.Metadata)
		}
		if len(d.PageContent) > 40 {
			t.Errorf("chunk length = %d, want <= 40", len(d.PageContent))
		}
	}
}

func TestSplitDocumentsMetadataMismatch(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(100, 10)
	if _, err := ts.SplitDocuments([]string{"a", "b"}, []map[string]any{{}}); err == nil {
		t.Fatal("expected error for mismatched metadata")
	}
}
