// Package prompt builds the system prompt that grounds the assistant in retrieved context.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Context block delimiters wrapped around the retrieved documents.
const (
	ContextStart = "START CONTEXT BLOCK"
	ContextEnd   = "END OF CONTEXT BLOCK"
)

const defaultInstructions = `You have been hired by {{.Company}} to be a helpful assistant.
Help the user with {{.Company}} support questions and {{.Domain}} questions.
The context below are recent support documents that you can use to solve the users question.
Do not rely on prior knowledge unless its related to a {{.Domain}} question.
Do not answer questions that are unrelated to {{.Domain}} or {{.Company}} support.`

// Settings is the YAML shape of a prompt file.
type Settings struct {
	Company      string `yaml:"company"`
	Domain       string `yaml:"domain"`
	Instructions string `yaml:"instructions"` // text/template over Company and Domain
}

// Builder renders system prompts.
type Builder struct {
	instructions string
}

// DefaultSettings returns the built-in persona.
func DefaultSettings() Settings {
	return Settings{
		Company:      "Pointsbet",
		Domain:       "sports betting",
		Instructions: defaultInstructions,
	}
}

// New renders the instruction template once and returns a builder.
func New(s Settings) (*Builder, error) {
	d := DefaultSettings()
	if s.Company == "" {
		s.Company = d.Company
	}
	if s.Domain == "" {
		s.Domain = d.Domain
	}
	if strings.TrimSpace(s.Instructions) == "" {
		s.Instructions = d.Instructions
	}

	tmpl, err := template.New("instructions").Option("missingkey=error").Parse(s.Instructions)
	if err != nil {
		return nil, fmt.Errorf("parse instructions: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, s); err != nil {
		return nil, fmt.Errorf("render instructions: %w", err)
	}
	return &Builder{instructions: strings.TrimSpace(buf.String())}, nil
}

// Load reads settings from a YAML file. An empty path yields the defaults.
func Load(path string) (*Builder, error) {
	if path == "" {
		return New(DefaultSettings())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("prompt file %s not found", path)
		}
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse prompt file: %w", err)
	}
	return New(s)
}

// Instructions returns the rendered persona text.
func (b *Builder) Instructions() string {
	return b.instructions
}

// System returns the system prompt with contextText inside the context block.
func (b *Builder) System(contextText string) string {
	var sb strings.Builder
	sb.WriteString(b.instructions)
	sb.WriteString("\n")
	sb.WriteString(ContextStart)
	sb.WriteString("\n")
	sb.WriteString(contextText)
	sb.WriteString("\n")
	sb.WriteString(ContextEnd)
	sb.WriteString("\n")
	return sb.String()
}
