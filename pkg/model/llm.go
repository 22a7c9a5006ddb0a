package model

import (
	"context"
	"encoding/json"

	"github.com/storyforge-ai/storyforge/pkg/schema"
)

// These are factory methods each llm provider should implement to create content generators.

// NewStructureContentGeneratorFunc is for generators that produce structured output (i.e. JSON that can be unmarshaled into a struct).
type NewStructureContentGeneratorFunc[T any] func(prompt string, opts ...GeneratorOption) (ContentGenerator[T], error)

// NewStringContentGeneratorFunc is for generators that produce simple string output.
type NewStringContentGeneratorFunc func(prompt string, opts ...GeneratorOption) (ContentGenerator[string], error)

type ContentGenerator[T any] interface {
	Generate(ctx context.Context) (T, GenerationMetadata, error)
	AddPromptContext(ctx context.Context, messageType ContextMessageType, content string)
	AddPromptContextProvider(ctx context.Context, provider PromptContextProvider)
}

type GenerationMetadata map[string]string

const (
	MetadataKeyProvider          = "provider"
	MetadataKeyModel             = "model"
	MetadataKeyLatencyMs         = "latency_ms"
	MetadataKeyInputTokens       = "input_tokens"
	MetadataKeyOutputTokens      = "output_tokens"
	MetadataKeyTotalTokens       = "total_tokens"
	MetadataKeyCachedInputTokens = "cached_input_tokens"
	MetadataKeyReasoningTokens   = "reasoning_tokens"
	MetadataKeyAPICalls          = "api_calls"
	MetadataKeyToolRounds        = "tool_rounds"
	MetadataKeyResponseID        = "response_id"
	MetadataKeyResponseStatus    = "response_status"
	// MetadataKeyProvenance reports how much recovery the ingest
	// pipeline needed to type the response: direct, repaired,
	// normalized or fallback.
	MetadataKeyProvenance = "provenance"
	MetadataKeyRepairs    = "repairs"
	MetadataKeyViolations = "violations"
)

type PromptContext struct {
	MessageType ContextMessageType
	Content     string
}
type PromptContextProvider interface {
	GenerateContext(ctx context.Context) ([]*PromptContext, error)
}

type ContextMessageType string

const (
	ContextMessageTypeSystem    ContextMessageType = "system"    //Used to provide instructions or context to the model that is not part of the user input or assistant output.  Such as the desired Persona
	ContextMessageTypeHuman     ContextMessageType = "human"     // Context to the LLM as from a human, but not part of the actual prompt.  For example RAG Content
	ContextMessageTypeAssistant ContextMessageType = "assistant" //Chain responses from the assistant.
)

type GeneratorOption interface {
	apply(*GeneratorConfig)
}

type generatorOptionFunc func(*GeneratorConfig)

func (f generatorOptionFunc) apply(cfg *GeneratorConfig) {
	f(cfg)
}

type GeneratorConfig struct {
	IgnoreInvalidGeneratorOptions bool
	URL                           string
	AuthToken                     string
	Temperature                   *float64
	MaxTokens                     *int
	Model                         *string
	ReasoningLevel                *ReasoningLevel
	Tools                         []Tool
	MCPTools                      []MCPTool
	// RecoverySchema routes structured responses through the ingest
	// pipeline instead of a strict unmarshal, so malformed output
	// degrades into a schema-valid record instead of an error.
	RecoverySchema *schema.Descriptor
}

type ReasoningLevel string

const (
	ReasoningLevelNone ReasoningLevel = "none"
	ReasoningLevelLow  ReasoningLevel = "low"
	ReasoningLevelMed  ReasoningLevel = "med"
	ReasoningLevelHigh ReasoningLevel = "high"
)

type JSONSchema map[string]any

type Tool struct {
	Name        string
	Description string
	InputSchema JSONSchema

	// Handler gets raw JSON args (already validated by you if you want),
	// and returns JSON output.
	Handler func(ctx context.Context, args json.RawMessage) (any, error)
}

type MCPTool struct {
	URL         string
	Name        string
	HTTPHeaders map[string]string
	// AllowedTools restricts exposed MCP tools. If omitted, all server tools are discovered and used.
	AllowedTools []string
}

func ResolveGeneratorOpts(opts ...GeneratorOption) GeneratorConfig {
	cfg := GeneratorConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&cfg)
		}
	}
	return cfg
}

func WithIgnoreInvalidGeneratorOptions(value bool) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.IgnoreInvalidGeneratorOptions = value
	})
}

func WithURL(value string) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.URL = value
	})
}

func WithAuthToken(value string) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.AuthToken = value
	})
}

func WithTemperature(value float64) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.Temperature = &value
	})
}

func WithMaxTokens(value int) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.MaxTokens = &value
	})
}

func WithModel(value string) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.Model = &value
	})
}

func WithTools(tools []Tool) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.Tools = append([]Tool(nil), tools...)
	})
}

func WithMCPTools(tools []MCPTool) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.MCPTools = append([]MCPTool(nil), tools...)
	})
}

func WithReasoningLevel(level ReasoningLevel) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.ReasoningLevel = &level
	})
}

// WithRecoverySchema enables pipeline-backed recovery for structured
// generation. The descriptor must already be registered.
func WithRecoverySchema(desc *schema.Descriptor) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.RecoverySchema = desc
	})
}
