package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Replies are the fixed texts the bot sends outside of model output
type Replies struct {
	Cleared        string `yaml:"cleared"`
	NoConversation string `yaml:"noConversation"`
	EmptyPrompt    string `yaml:"emptyPrompt"`
	ModelError     string `yaml:"modelError"`
	ImageError     string `yaml:"imageError"`
	Unexpected     string `yaml:"unexpected"`
}

// DefaultReplies returns the built-in reply texts
func DefaultReplies() Replies {
	return Replies{
		Cleared:        "Percakapanmu udah dihapus nih! 🧹",
		NoConversation: "Ngga ada percakapan nih, yuk coba chat dulu. 😊",
		EmptyPrompt:    "Tulis pertanyaanmu disini ya! 🤖",
		ModelError:     "Sorry, I encountered an error processing your request.",
		ImageError:     "Sorry, I couldn't process the image.",
		Unexpected:     "An unexpected error occurred. Please try again later.",
	}
}

// Persona is the optional YAML file that shapes how the bot talks.
//
//	preamble: |
//	  You are a friendly assistant...
//	clearKeyword: reset
//	imagePrompt: What is in this picture?
//	temperature: 0.7
//	maxTokens: 1024
//	replies:
//	  cleared: History wiped.
type Persona struct {
	Preamble     string  `yaml:"preamble"`
	ClearKeyword string  `yaml:"clearKeyword"`
	ImagePrompt  string  `yaml:"imagePrompt"`
	Replies      Replies `yaml:"replies"`

	// Generation settings; zero leaves the provider default
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"maxTokens"`
}

// LoadPersona parses a persona file. Fields left out keep their defaults.
func LoadPersona(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona %s: %w", path, err)
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse persona %s: %w", path, err)
	}
	if p.Temperature < 0 || p.MaxTokens < 0 {
		return nil, fmt.Errorf("persona %s: temperature and maxTokens must not be negative", path)
	}
	p.applyDefaults()
	return &p, nil
}

// applyDefaults fills empty fields; an empty Preamble is left for the agent.
func (p *Persona) applyDefaults() {
	def := DefaultReplies()
	if p.ImagePrompt == "" {
		p.ImagePrompt = DefaultImagePrompt
	}
	fill(&p.Replies.Cleared, def.Cleared)
	fill(&p.Replies.NoConversation, def.NoConversation)
	fill(&p.Replies.EmptyPrompt, def.EmptyPrompt)
	fill(&p.Replies.ModelError, def.ModelError)
	fill(&p.Replies.ImageError, def.ImageError)
	fill(&p.Replies.Unexpected, def.Unexpected)
}

func fill(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}
