package clients

import (
	"context"
	"strings"
	"testing"
)

func TestNewModelRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		key      string
		want     string
	}{
		{"unknown provider", "llama", "k", "invalid model provider"},
		{"google without key", "google", "", "google api key is empty"},
		{"openai without key", "openai", "", "openai api key is empty"},
		{"anthropic without key", "anthropic", "", "anthropic api key is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(context.Background(), tt.provider, tt.key, "")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestNewModelBuildsClients(t *testing.T) {
	for _, provider := range []string{"openai", "anthropic"} {
		t.Run(provider, func(t *testing.T) {
			m, err := NewModel(context.Background(), provider, "test-key", "")
			if err != nil {
				t.Fatalf("NewModel error: %v", err)
			}
			if m == nil {
				t.Fatal("nil model")
			}
		})
	}
}
