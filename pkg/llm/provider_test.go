package llm

import (
	"context"
	"testing"
)

type stubProvider struct{ t ProviderType }

func (s stubProvider) Name() string      { return string(s.t) }
func (s stubProvider) Type() ProviderType { return s.t }
func (s stubProvider) GetConfig() Config  { return Config{Type: s.t} }
func (s stubProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: "ok"}, nil
}

func TestParseProviderType(t *testing.T) {
	tests := []struct {
		in      string
		want    ProviderType
		wantErr bool
	}{
		{"", ProviderGoogle, false},
		{"google", ProviderGoogle, false},
		{" OpenAI ", ProviderOpenAI, false},
		{"anthropic", "", true},
	}

	for _, tt := range tests {
		got, err := ParseProviderType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseProviderType(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseProviderType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMessageText(t *testing.T) {
	msg := Message{
		Role: RoleUser,
		Parts: []Part{
			{Text: "Describe this image."},
			{InlineData: &InlineData{MIMEType: "image/jpeg", Data: []byte{0xff}}},
		},
	}

	if got := msg.Text(); got != "Describe this image." {
		t.Errorf("Expected text 'Describe this image.', got '%s'", got)
	}
}

func TestRegistry(t *testing.T) {
	RegisterProvider(stubProvider{t: ProviderOpenAI})

	p, err := GetProvider(ProviderOpenAI)
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Expected provider 'openai', got '%s'", p.Name())
	}
}
