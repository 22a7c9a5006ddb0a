package gemini

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"
	"google.golang.org/genai"

	"github.com/storyforge-ai/storyforge/pkg/ingest"
	"github.com/storyforge-ai/storyforge/pkg/model"
	"github.com/storyforge-ai/storyforge/pkg/schema"
)

type ContentGeneratorSuite struct {
	suite.Suite
}

func TestContentGeneratorSuite(t *testing.T) {
	suite.Run(t, new(ContentGeneratorSuite))
}

type sampleOutline struct {
	Title  string   `json:"title"`
	Scenes []string `json:"scenes"`
}

func (s *ContentGeneratorSuite) TestNewStructureContentGeneratorEmptyPromptReturnsError() {
	generator, err := NewStructureContentGenerator[sampleOutline]("   ")

	s.Require().Error(err)
	s.Nil(generator)
}

func (s *ContentGeneratorSuite) TestNewStringContentGeneratorEmptyPromptReturnsError() {
	generator, err := NewStringContentGenerator("")

	s.Require().Error(err)
	s.Nil(generator)
}

func (s *ContentGeneratorSuite) TestResolveGenerationModelNameUsesDefault() {
	modelName := resolveGenerationModelName(model.GeneratorConfig{})
	s.Equal(defaultGenerationModelName, modelName)
}

func (s *ContentGeneratorSuite) TestResolveGenerationModelNameUsesConfigValue() {
	cfg := model.ResolveGeneratorOpts(model.WithModel("gemini-2.5-pro"))
	s.Equal("gemini-2.5-pro", resolveGenerationModelName(cfg))
}

func (s *ContentGeneratorSuite) TestBuildContentsWithContextSeparatesRoles() {
	systemInstruction, contents, contextCount, err := buildContentsWithContext("write an outline", []*model.PromptContext{
		{MessageType: model.ContextMessageTypeSystem, Content: "stay terse"},
		{MessageType: model.ContextMessageTypeHuman, Content: "topic: ants"},
		{MessageType: model.ContextMessageTypeAssistant, Content: "noted"},
	})

	s.Require().NoError(err)
	s.Equal(3, contextCount)
	s.Require().NotNil(systemInstruction)
	s.Equal("stay terse", systemInstruction.Parts[0].Text)

	s.Require().Len(contents, 3)
	s.Equal(string(genai.RoleUser), contents[0].Role)
	s.Equal("topic: ants", contents[0].Parts[0].Text)
	s.Equal(string(genai.RoleModel), contents[1].Role)
	s.Equal("write an outline", contents[2].Parts[0].Text)
}

func (s *ContentGeneratorSuite) TestBuildContentsWithContextSkipsBlankEntries() {
	systemInstruction, contents, contextCount, err := buildContentsWithContext("prompt", []*model.PromptContext{
		nil,
		{MessageType: model.ContextMessageTypeHuman, Content: "   "},
	})

	s.Require().NoError(err)
	s.Equal(0, contextCount)
	s.Nil(systemInstruction)
	s.Require().Len(contents, 1)
	s.Equal("prompt", contents[0].Parts[0].Text)
}

func (s *ContentGeneratorSuite) TestMapReasoningLevelCoversAllLevels() {
	s.Equal(genai.ThinkingLevelMinimal, mapReasoningLevel(model.ReasoningLevelNone))
	s.Equal(genai.ThinkingLevelLow, mapReasoningLevel(model.ReasoningLevelLow))
	s.Equal(genai.ThinkingLevelMedium, mapReasoningLevel(model.ReasoningLevelMed))
	s.Equal(genai.ThinkingLevelHigh, mapReasoningLevel(model.ReasoningLevelHigh))
}

func (s *ContentGeneratorSuite) TestMapToolsRejectsBlankName() {
	_, _, err := mapTools([]model.Tool{{Name: "  "}})
	s.Require().Error(err)
	s.Contains(err.Error(), "tool name is required")
}

func (s *ContentGeneratorSuite) TestMapToolsRejectsMissingHandler() {
	_, _, err := mapTools([]model.Tool{{Name: "lookup"}})
	s.Require().Error(err)
	s.Contains(err.Error(), "tool handler is required")
}

func (s *ContentGeneratorSuite) TestMapToolsDefaultsParameters() {
	tools, handlers, err := mapTools([]model.Tool{
		{
			Name:    "lookup",
			Handler: func(_ context.Context, _ json.RawMessage) (any, error) { return nil, nil },
		},
	})

	s.Require().NoError(err)
	s.Require().Len(tools, 1)
	s.Require().Len(tools[0].FunctionDeclarations, 1)

	parameters, ok := tools[0].FunctionDeclarations[0].ParametersJsonSchema.(map[string]any)
	s.Require().True(ok)
	s.Equal("object", parameters["type"])
	s.Contains(handlers, "lookup")
}

func (s *ContentGeneratorSuite) TestGenerateJSONSchemaReflectsStruct() {
	schemaMap, err := generateJSONSchema[sampleOutline]()

	s.Require().NoError(err)
	s.Equal("object", schemaMap["type"])

	properties, ok := schemaMap["properties"].(map[string]any)
	s.Require().True(ok)
	s.Contains(properties, "title")
	s.Contains(properties, "scenes")
}

func (s *ContentGeneratorSuite) TestApplyRecoveryMetadataRecordsPipelineOutcome() {
	meta := initMetadata("gemini-2.5-flash")
	applyRecoveryMetadata(meta, &ingest.Result{
		Provenance: ingest.ProvenanceFallback,
		Repairs:    []string{"strip_trailing_commas", "balance_delimiters"},
		Violations: []schema.Violation{{Path: "scenes", Kind: schema.ViolationMissing}},
	})

	s.Equal("fallback", meta[model.MetadataKeyProvenance])
	s.Equal("strip_trailing_commas,balance_delimiters", meta[model.MetadataKeyRepairs])
	s.Equal("1", meta[model.MetadataKeyViolations])
}

func (s *ContentGeneratorSuite) TestApplyRecoveryMetadataOmitsRepairsWhenClean() {
	meta := initMetadata("gemini-2.5-flash")
	applyRecoveryMetadata(meta, &ingest.Result{Provenance: ingest.ProvenanceDirect})

	s.Equal("direct", meta[model.MetadataKeyProvenance])
	s.Equal("0", meta[model.MetadataKeyViolations])
	_, hasRepairs := meta[model.MetadataKeyRepairs]
	s.False(hasRepairs)
}
