package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/storyforge-ai/storyforge/pkg/ingest"
	"github.com/storyforge-ai/storyforge/pkg/schema"
)

// Exercises the registered descriptors end to end: messy generator
// text in, typed records out.
type ScriptPipelineSuite struct {
	suite.Suite
	ctx context.Context
}

func TestScriptPipelineSuite(t *testing.T) {
	suite.Run(t, new(ScriptPipelineSuite))
}

func (s *ScriptPipelineSuite) SetupSuite() {
	RegisterSchemas()
	s.ctx = context.Background()
}

func (s *ScriptPipelineSuite) TestOutlineFromAliasedFencedOutput() {
	raw := "Here you go!\n```json\n" +
		`{"Title": "Why Ants Are Strong", "style": "informative", "scenes": [` +
		`{"id": 1, "type": "intro", "transition": "crossfade"}]}` +
		"\n```"

	outline, result, err := ingest.ProcessAs[StoryOutline](s.ctx, raw, OutlineDescriptor())

	s.Require().NoError(err)
	s.Equal(ingest.ProvenanceNormalized, result.Provenance)
	s.Empty(result.Violations)

	s.Equal("Why Ants Are Strong", outline.Title)
	s.Equal(StyleEducational, outline.OverallStyle)
	s.Require().Len(outline.Scenes, 1)
	s.Equal(OutlineScene{
		SceneNumber:      1,
		SceneType:        SceneHook,
		TransitionToNext: TransitionFade,
		SceneImportance:  5,
	}, outline.Scenes[0])
}

func (s *ScriptPipelineSuite) TestOutlineSkeletonWhenScenesMissing() {
	outline, result, err := ingest.ProcessAs[StoryOutline](s.ctx, `{"title": "Just a Title"}`, OutlineDescriptor())

	s.Require().NoError(err)
	s.Equal(ingest.ProvenanceFallback, result.Provenance)
	s.Require().Len(result.Violations, 1)
	s.Equal("scenes", result.Violations[0].Path)
	s.Equal(schema.ViolationMissing, result.Violations[0].Kind)

	s.Equal("Just a Title", outline.Title)
	s.Require().Len(outline.Scenes, 3)
	s.Equal(SceneHook, outline.Scenes[0].SceneType)
	s.Equal(SceneExplanation, outline.Scenes[1].SceneType)
	s.Equal(SceneConclusion, outline.Scenes[2].SceneType)
	s.Equal(3, outline.Scenes[2].SceneNumber)
	s.Equal(TransitionFade, outline.Scenes[0].TransitionToNext)
}

func (s *ScriptPipelineSuite) TestScenePackageFromScalarNarration() {
	raw := `{"scene_number": 2, "narration": "Ants can lift fifty times their weight."}`

	pkg, result, err := ingest.ProcessAs[ScenePackage](s.ctx, raw, ScenePackageDescriptor())

	s.Require().NoError(err)
	s.Equal(ingest.ProvenanceFallback, result.Provenance)
	s.Require().Len(result.Violations, 1)
	s.Equal("narration_script[0].duration_ms", result.Violations[0].Path)

	s.Equal(2, pkg.SceneNumber)
	s.Require().Len(pkg.NarrationScript, 1)
	line := pkg.NarrationScript[0]
	s.Equal("Ants can lift fifty times their weight.", line.Line)
	s.Equal(EstimateNarrationMs(line.Line), line.DurationMS)
	s.Equal(500, line.PauseAfterMS)

	s.Equal(TTSSettings{Engine: "lemonfox", Voice: "sarah", Language: "en-US", Speed: 1.0}, pkg.TTS)
	s.Equal(Timing{TotalMS: 5000, Estimated: true}, pkg.Timing)
	s.Equal(TransitionFade, pkg.TransitionIn)
	s.Equal(TransitionFade, pkg.TransitionOut)
}

func (s *ScriptPipelineSuite) TestScenePackageCueCanonicalized() {
	raw := `{
		"scene_number": 1,
		"narration_script": [{"line": "Watch this.", "duration_ms": 1500}],
		"sfx_cues": [{"effect": "whoosh sound", "at_ms": "0.1s", "duration_ms": 800}]
	}`

	pkg, result, err := ingest.ProcessAs[ScenePackage](s.ctx, raw, ScenePackageDescriptor())

	s.Require().NoError(err)
	s.Equal(ingest.ProvenanceNormalized, result.Provenance)
	s.Empty(result.Violations)

	s.Require().Len(pkg.SFXCues, 1)
	cue := pkg.SFXCues[0]
	s.Equal("SFX_WHOOSH_SOUND", cue.Cue)
	s.Equal(100, cue.AtMS)
	s.Equal(800, cue.DurationMS)
	s.Equal(0.5, cue.Volume)
}

func (s *ScriptPipelineSuite) TestImageAssetFromProse() {
	prose := "A macro photo of an ant carrying a leaf, golden hour."

	asset, result, err := ingest.ProcessAs[ImageAsset](s.ctx, prose, ImageAssetDescriptor())

	s.Require().NoError(err)
	s.Equal(ingest.ProvenanceFallback, result.Provenance)

	s.Equal(ImageAsset{
		FrameID:     "1A",
		Prompt:      prose,
		Seed:        123456,
		CFG:         7.5,
		Steps:       20,
		AspectRatio: "16:9",
	}, asset)
}

func (s *ScriptPipelineSuite) TestImageAssetDirect() {
	raw := `{"frame_id": "2B", "prompt": "ant hill at dawn", "seed": 7, "cfg": 6.0, "steps": 30, "aspect_ratio": "9:16"}`

	asset, result, err := ingest.ProcessAs[ImageAsset](s.ctx, raw, ImageAssetDescriptor())

	s.Require().NoError(err)
	s.Equal(ingest.ProvenanceDirect, result.Provenance)
	s.Equal(ImageAsset{
		FrameID:     "2B",
		Prompt:      "ant hill at dawn",
		Seed:        7,
		CFG:         6.0,
		Steps:       30,
		AspectRatio: "9:16",
	}, asset)
}
