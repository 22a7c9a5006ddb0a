package ingest

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/storyforge-ai/storyforge/pkg/schema"
)

type ValidateSuite struct {
	suite.Suite
}

func TestValidateSuite(t *testing.T) {
	suite.Run(t, new(ValidateSuite))
}

func validateTestDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Kind: "validate_probe",
		Fields: []schema.FieldSpec{
			{Name: "title", Type: schema.TypeString, Required: true, MinLen: 1, MaxLen: 20, Default: schema.Literal("Untitled")},
			{Name: "volume", Type: schema.TypeFloat, Min: schema.Bound(0), Max: schema.Bound(1)},
			{Name: "muted", Type: schema.TypeBool},
			{
				Name:         "transition",
				Type:         schema.TypeEnum,
				Values:       []string{"cut", "fade"},
				EnumFallback: "cut",
			},
			{
				Name:     "scenes",
				Type:     schema.TypeList,
				Required: true,
				MinLen:   1,
				Elem: &schema.FieldSpec{
					Name: "scene",
					Type: schema.TypeObject,
					Fields: []schema.FieldSpec{
						{Name: "scene_number", Type: schema.TypeInt, Required: true, Min: schema.Bound(1), Default: schema.Literal(1)},
					},
				},
			},
		},
	}
}

func (s *ValidateSuite) validTree() map[string]any {
	return map[string]any{
		"title":  "Ants",
		"scenes": []any{map[string]any{"scene_number": float64(1)}},
	}
}

func (s *ValidateSuite) TestValidTreeHasNoViolations() {
	s.Empty(validate(s.validTree(), validateTestDescriptor()))
}

func (s *ValidateSuite) TestMissingRequiredField() {
	tree := s.validTree()
	delete(tree, "title")

	violations := validate(tree, validateTestDescriptor())

	s.Require().Len(violations, 1)
	s.Equal("title", violations[0].Path)
	s.Equal(schema.ViolationMissing, violations[0].Kind)
}

func (s *ValidateSuite) TestNullCountsAsMissing() {
	tree := s.validTree()
	tree["title"] = nil

	violations := validate(tree, validateTestDescriptor())

	s.Require().Len(violations, 1)
	s.Equal(schema.ViolationMissing, violations[0].Kind)
}

func (s *ValidateSuite) TestAbsentOptionalIsFine() {
	violations := validate(s.validTree(), validateTestDescriptor())

	s.Empty(violations)
}

func (s *ValidateSuite) TestWrongTypeString() {
	tree := s.validTree()
	tree["title"] = float64(7)

	violations := validate(tree, validateTestDescriptor())

	s.Require().Len(violations, 1)
	s.Equal(schema.ViolationWrongType, violations[0].Kind)
	s.Contains(violations[0].Detail, "expected string")
}

func (s *ValidateSuite) TestStringNotANumber() {
	tree := s.validTree()
	tree["volume"] = "loud"

	violations := validate(tree, validateTestDescriptor())

	s.Require().Len(violations, 1)
	s.Equal("volume", violations[0].Path)
	s.Equal(schema.ViolationWrongType, violations[0].Kind)
}

func (s *ValidateSuite) TestBelowMinimum() {
	tree := s.validTree()
	tree["volume"] = -0.5

	violations := validate(tree, validateTestDescriptor())

	s.Require().Len(violations, 1)
	s.Equal(schema.ViolationOutOfRange, violations[0].Kind)
}

func (s *ValidateSuite) TestAboveMaximum() {
	tree := s.validTree()
	tree["volume"] = 1.5

	violations := validate(tree, validateTestDescriptor())

	s.Require().Len(violations, 1)
	s.Equal(schema.ViolationOutOfRange, violations[0].Kind)
}

func (s *ValidateSuite) TestStringTooLong() {
	tree := s.validTree()
	tree["title"] = "a title far longer than twenty characters"

	violations := validate(tree, validateTestDescriptor())

	s.Require().Len(violations, 1)
	s.Equal(schema.ViolationOutOfRange, violations[0].Kind)
}

func (s *ValidateSuite) TestNonCanonicalEnumValue() {
	tree := s.validTree()
	tree["transition"] = "zoom_wipe"

	violations := validate(tree, validateTestDescriptor())

	s.Require().Len(violations, 1)
	s.Equal("transition", violations[0].Path)
	s.Equal(schema.ViolationInvalidEnum, violations[0].Kind)
}

func (s *ValidateSuite) TestEmptyListBelowMinimum() {
	tree := s.validTree()
	tree["scenes"] = []any{}

	violations := validate(tree, validateTestDescriptor())

	s.Require().Len(violations, 1)
	s.Equal("scenes", violations[0].Path)
	s.Equal(schema.ViolationOutOfRange, violations[0].Kind)
}

func (s *ValidateSuite) TestListElementPath() {
	tree := s.validTree()
	tree["scenes"] = []any{
		map[string]any{"scene_number": float64(1)},
		map[string]any{"scene_number": float64(0)},
	}

	violations := validate(tree, validateTestDescriptor())

	s.Require().Len(violations, 1)
	s.Equal("scenes[1].scene_number", violations[0].Path)
	s.Equal(schema.ViolationOutOfRange, violations[0].Kind)
}

func (s *ValidateSuite) TestNullListElement() {
	tree := s.validTree()
	tree["scenes"] = []any{nil}

	violations := validate(tree, validateTestDescriptor())

	s.Require().Len(violations, 1)
	s.Equal("scenes[0]", violations[0].Path)
	s.Equal(schema.ViolationMissing, violations[0].Kind)
}

func (s *ValidateSuite) TestViolationsInDeclarationOrder() {
	violations := validate(map[string]any{"volume": float64(2)}, validateTestDescriptor())

	s.Require().Len(violations, 3)
	s.Equal("title", violations[0].Path)
	s.Equal("volume", violations[1].Path)
	s.Equal("scenes", violations[2].Path)
}

func (s *ValidateSuite) TestNonObjectTreeReportsAllRequired() {
	violations := validate("just prose", validateTestDescriptor())

	s.Require().Len(violations, 2)
	s.Equal("title", violations[0].Path)
	s.Equal("scenes", violations[1].Path)
	s.Equal(schema.ViolationMissing, violations[0].Kind)
	s.Equal(schema.ViolationMissing, violations[1].Kind)
}
