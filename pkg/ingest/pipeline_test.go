package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/storyforge-ai/storyforge/pkg/schema"
)

type PipelineSuite struct {
	suite.Suite
	ctx context.Context
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

var (
	registerPipelineOnce sync.Once
	outlineDesc          *schema.Descriptor
	cueDesc              *schema.Descriptor
	noteDesc             *schema.Descriptor
)

func registerPipelineSchemas() {
	registerPipelineOnce.Do(func() {
		outlineDesc = &schema.Descriptor{
			Kind: "pipeline_outline",
			Fields: []schema.FieldSpec{
				{Name: "title", Type: schema.TypeString, Required: true, MinLen: 1, Default: schema.Literal("Untitled Story")},
				{
					Name: "scenes", Type: schema.TypeList, Required: true, MinLen: 1,
					Elem: &schema.FieldSpec{
						Name: "scene", Type: schema.TypeObject,
						Fields: []schema.FieldSpec{
							{
								Name: "scene_number", Type: schema.TypeInt, Required: true,
								Aliases: []string{"scene_id", "number", "id"},
								Min:     schema.Bound(1),
								Default: schema.Literal(1),
							},
							{
								Name: "scene_type", Type: schema.TypeEnum, Required: true,
								Values:       []string{"hook", "explanation", "conclusion"},
								EnumFallback: "explanation",
								Default:      schema.Literal("explanation"),
							},
						},
					},
				},
			},
		}
		cueDesc = &schema.Descriptor{
			Kind: "pipeline_cue",
			Fields: []schema.FieldSpec{
				{Name: "cue", Type: schema.TypeString, Required: true, MinLen: 1, Default: schema.Literal("SFX_GENERIC")},
				{
					Name: "at_ms", Type: schema.TypeInt, Required: true, Millis: true,
					Aliases: []string{"start_ms", "begin_ms"},
					Min:     schema.Bound(0),
				},
				{
					Name: "duration_ms", Type: schema.TypeInt, Required: true, Millis: true,
					Aliases: []string{"length_ms"},
					Min:     schema.Bound(100),
					Default: schema.Literal(500),
				},
			},
		}
		noteDesc = &schema.Descriptor{
			Kind: "pipeline_note",
			Fields: []schema.FieldSpec{
				{Name: "text", Type: schema.TypeString, Required: true, MinLen: 1, AbsorbRaw: true, Default: schema.Literal("(empty)")},
			},
		}
		schema.MustRegister(outlineDesc)
		schema.MustRegister(cueDesc)
		schema.MustRegister(noteDesc)
	})
}

func (s *PipelineSuite) SetupSuite() {
	registerPipelineSchemas()
	s.ctx = context.Background()
}

func (s *PipelineSuite) TestDirectPassThrough() {
	result, err := Process(s.ctx, `{"cue": "SOUND_X", "at_ms": 100, "duration_ms": 250}`, cueDesc)

	s.Require().NoError(err)
	s.Equal(ProvenanceDirect, result.Provenance)
	s.Empty(result.Repairs)
	s.Empty(result.Violations)
	s.Equal(map[string]any{
		"cue":         "SOUND_X",
		"at_ms":       float64(100),
		"duration_ms": float64(250),
	}, result.Record)
}

func (s *PipelineSuite) TestRepairedProvenance() {
	result, err := Process(s.ctx, `{"cue": "X", "at_ms": 5, "duration_ms": 250,}`, cueDesc)

	s.Require().NoError(err)
	s.Equal(ProvenanceRepaired, result.Provenance)
	s.Equal([]string{"strip_trailing_commas"}, result.Repairs)
	s.Empty(result.Violations)
}

func (s *PipelineSuite) TestNormalizedProvenance() {
	result, err := Process(s.ctx, `{"cue": "X", "at_ms": 5, "length_ms": 250}`, cueDesc)

	s.Require().NoError(err)
	s.Equal(ProvenanceNormalized, result.Provenance)
	s.Empty(result.Repairs)
	s.Equal(float64(250), result.Record["duration_ms"])
}

func (s *PipelineSuite) TestFencedInputStaysDirect() {
	raw := "```json\n{\"cue\": \"X\", \"at_ms\": 0, \"duration_ms\": 100}\n```"

	result, err := Process(s.ctx, raw, cueDesc)

	s.Require().NoError(err)
	s.Equal(ProvenanceDirect, result.Provenance)
}

func (s *PipelineSuite) TestRepairedRecordKeepsValidFields() {
	result, err := Process(s.ctx, `{"title": "Ants", "scenes": [{"id": 1},]}`, outlineDesc)

	s.Require().NoError(err)
	s.Equal(ProvenanceFallback, result.Provenance)
	s.Equal([]string{"strip_trailing_commas"}, result.Repairs)

	s.Require().Len(result.Violations, 1)
	s.Equal("scenes[0].scene_type", result.Violations[0].Path)
	s.Equal(schema.ViolationMissing, result.Violations[0].Kind)

	s.Equal("Ants", result.Record["title"])
	s.Equal([]any{map[string]any{
		"scene_number": float64(1),
		"scene_type":   "explanation",
	}}, result.Record["scenes"])
}

func (s *PipelineSuite) TestProseLandsInSinkField() {
	prose := "The ants marched on despite the rain."

	result, err := Process(s.ctx, prose, noteDesc)

	s.Require().NoError(err)
	s.Equal(ProvenanceFallback, result.Provenance)
	s.Empty(result.Repairs)
	s.Equal(prose, result.Record["text"])
}

func (s *PipelineSuite) TestMissingFieldFilledByDefault() {
	result, err := Process(s.ctx, `{"cue": "SOUND_X", "at_ms": 100}`, cueDesc)

	s.Require().NoError(err)
	s.Equal(ProvenanceFallback, result.Provenance)

	s.Require().Len(result.Violations, 1)
	s.Equal("duration_ms", result.Violations[0].Path)
	s.Equal(schema.ViolationMissing, result.Violations[0].Kind)

	s.Equal("SOUND_X", result.Record["cue"])
	s.Equal(float64(100), result.Record["at_ms"])
	s.Equal(500, result.Record["duration_ms"])
}

func (s *PipelineSuite) TestTruncatedGenerationRepaired() {
	raw := `{"cue": "SOUND_X", "at_ms": 100, "duration_ms": 2000, "note": "boo`

	result, err := Process(s.ctx, raw, cueDesc)

	s.Require().NoError(err)
	s.Equal(ProvenanceRepaired, result.Provenance)
	s.Equal([]string{"close_unterminated_strings", "balance_delimiters"}, result.Repairs)
	s.Equal(float64(2000), result.Record["duration_ms"])

	_, kept := result.Record["note"]
	s.False(kept)
}

func (s *PipelineSuite) TestUnknownEnumSubstitutedWithoutViolation() {
	raw := `{"title": "T", "scenes": [{"id": 1, "scene_type": "dramatic-reveal"}]}`

	result, err := Process(s.ctx, raw, outlineDesc)

	s.Require().NoError(err)
	s.Equal(ProvenanceNormalized, result.Provenance)
	s.Empty(result.Violations)

	scenes := result.Record["scenes"].([]any)
	scene := scenes[0].(map[string]any)
	s.Equal("explanation", scene["scene_type"])
}

func (s *PipelineSuite) TestAliasSpellingDoesNotChangeRecord() {
	canonical, err := Process(s.ctx, `{"cue": "X", "at_ms": 5, "duration_ms": 250}`, cueDesc)
	s.Require().NoError(err)
	aliased, err := Process(s.ctx, `{"cue": "X", "at_ms": 5, "length_ms": 250}`, cueDesc)
	s.Require().NoError(err)

	s.Equal(ProvenanceDirect, canonical.Provenance)
	s.Equal(ProvenanceNormalized, aliased.Provenance)
	s.Equal(canonical.Record, aliased.Record)
}

func (s *PipelineSuite) TestDurationStringCoerced() {
	result, err := Process(s.ctx, `{"cue": "X", "at_ms": "3.5s", "duration_ms": "1500ms"}`, cueDesc)

	s.Require().NoError(err)
	s.Equal(ProvenanceNormalized, result.Provenance)
	s.Equal(float64(3500), result.Record["at_ms"])
	s.Equal(float64(1500), result.Record["duration_ms"])
}

func (s *PipelineSuite) TestEveryInputYieldsValidRecord() {
	inputs := []string{
		"",
		"   ",
		"not json at all",
		"{",
		"{{{{",
		`"just a string"`,
		`{"cue": {"oops": true}}`,
		`{"cue": "X", "at_ms": "soon"}`,
		"\x00\x01garbage\xff",
		strings.Repeat("long prose without structure. ", 50),
	}

	for _, raw := range inputs {
		result, err := Process(s.ctx, raw, cueDesc)

		s.Require().NoError(err, "input %q", raw)
		s.Require().NotNil(result.Record, "input %q", raw)
		s.Empty(validate(result.Record, cueDesc), "input %q must still produce a schema-valid record", raw)
	}
}

func (s *PipelineSuite) TestEmptyInputYieldsPlaceholder() {
	result, err := Process(s.ctx, "", noteDesc)

	s.Require().NoError(err)
	s.Equal(ProvenanceFallback, result.Provenance)
	s.Equal("(empty)", result.Record["text"])
}

func (s *PipelineSuite) TestNilDescriptorIsAnError() {
	result, err := Process(s.ctx, `{"cue": "X"}`, nil)

	s.Require().Error(err)
	s.Nil(result)
}

func (s *PipelineSuite) TestUnregisteredDescriptorIsAnError() {
	stray := &schema.Descriptor{
		Kind: "pipeline_stray",
		Fields: []schema.FieldSpec{
			{Name: "text", Type: schema.TypeString},
		},
	}

	result, err := Process(s.ctx, `{"text": "x"}`, stray)

	s.Require().ErrorIs(err, schema.ErrNotRegistered)
	s.Nil(result)
}

func (s *PipelineSuite) TestProcessKind() {
	result, err := ProcessKind(s.ctx, `{"cue": "X", "at_ms": 0, "duration_ms": 100}`, "pipeline_cue")

	s.Require().NoError(err)
	s.Equal(ProvenanceDirect, result.Provenance)
}

func (s *PipelineSuite) TestProcessKindUnknown() {
	result, err := ProcessKind(s.ctx, `{}`, "pipeline_never_registered")

	s.Require().ErrorIs(err, schema.ErrNotRegistered)
	s.Nil(result)
}

type cueRecord struct {
	Cue        string `json:"cue"`
	AtMS       int    `json:"at_ms"`
	DurationMS int    `json:"duration_ms"`
}

func (s *PipelineSuite) TestProcessAsBindsRecord() {
	rec, result, err := ProcessAs[cueRecord](s.ctx, `{"cue": "SOUND_X", "at_ms": 100}`, cueDesc)

	s.Require().NoError(err)
	s.Equal(ProvenanceFallback, result.Provenance)
	s.Equal(cueRecord{Cue: "SOUND_X", AtMS: 100, DurationMS: 500}, rec)
}

type captureObserver struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureObserver) ObserveIngest(_ context.Context, event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, event)
}

func (c *captureObserver) last() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.events) == 0 {
		return Event{}, false
	}
	return c.events[len(c.events)-1], true
}

func (s *PipelineSuite) TestObserverReceivesEvent() {
	capture := &captureObserver{}
	SetObserver(capture)
	defer SetObserver(nil)

	result, err := Process(s.ctx, `{"cue": "X", "at_ms": 0, "duration_ms": 100}`, cueDesc)
	s.Require().NoError(err)

	event, ok := capture.last()
	s.Require().True(ok)
	s.NotEmpty(event.ID)
	s.Equal(schema.Kind("pipeline_cue"), event.Schema)
	s.Equal(ProvenanceDirect, event.Provenance)
	s.Equal("brace_scan", event.Method)
	s.False(event.Unterminated)
	s.Equal(result.Event, event)
}
