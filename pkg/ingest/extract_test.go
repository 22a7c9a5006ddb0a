package ingest

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type ExtractSuite struct {
	suite.Suite
}

func TestExtractSuite(t *testing.T) {
	suite.Run(t, new(ExtractSuite))
}

func (s *ExtractSuite) TestFencedBlockWithLanguageTag() {
	raw := "Here is the scene:\n```json\n{\"title\": \"Ants\"}\n```\nHope that helps!"

	span := extract(raw)

	s.Equal(methodFencedBlock, span.method)
	s.Equal(`{"title": "Ants"}`, span.text)
	s.False(span.unterminated)
}

func (s *ExtractSuite) TestFencedBlockWithoutLanguageTag() {
	raw := "```\n{\"title\": \"Ants\"}\n```"

	span := extract(raw)

	s.Equal(methodFencedBlock, span.method)
	s.Equal(`{"title": "Ants"}`, span.text)
}

func (s *ExtractSuite) TestFirstFenceWins() {
	raw := "```json\n{\"a\": 1}\n```\nand also\n```json\n{\"b\": 2}\n```"

	span := extract(raw)

	s.Equal(`{"a": 1}`, span.text)
}

func (s *ExtractSuite) TestUnterminatedFence() {
	raw := "```json\n{\"title\": \"Ants\""

	span := extract(raw)

	s.Equal(methodFencedBlock, span.method)
	s.True(span.unterminated)
	s.Equal(`{"title": "Ants"`, span.text)
}

func (s *ExtractSuite) TestBraceScanSkipsProse() {
	raw := `Sure! The outline is {"title": "Ants", "n": 2} as requested.`

	span := extract(raw)

	s.Equal(methodBraceScan, span.method)
	s.Equal(`{"title": "Ants", "n": 2}`, span.text)
	s.False(span.unterminated)
}

func (s *ExtractSuite) TestBraceScanIgnoresBracesInsideStrings() {
	raw := `result: {"note": "use } sparingly", "ok": true} done`

	span := extract(raw)

	s.Equal(`{"note": "use } sparingly", "ok": true}`, span.text)
}

func (s *ExtractSuite) TestBraceScanNested() {
	raw := `{"outer": {"inner": {"deep": 1}}}`

	span := extract(raw)

	s.Equal(methodBraceScan, span.method)
	s.Equal(raw, span.text)
}

func (s *ExtractSuite) TestBraceScanTruncated() {
	raw := `{"title": "Ants", "scenes": [{"id": 1`

	span := extract(raw)

	s.Equal(methodBraceScan, span.method)
	s.True(span.unterminated)
	s.Equal(raw, span.text)
}

func (s *ExtractSuite) TestWholeInputWhenNoBraces() {
	span := extract("  The ants marched on despite the rain.  ")

	s.Equal(methodWholeInput, span.method)
	s.Equal("The ants marched on despite the rain.", span.text)
}

func (s *ExtractSuite) TestWholeInputEmpty() {
	span := extract("")

	s.Equal(methodWholeInput, span.method)
	s.Equal("", span.text)
}

func (s *ExtractSuite) TestMethodNames() {
	s.Equal("fenced_block", methodFencedBlock.String())
	s.Equal("brace_scan", methodBraceScan.String())
	s.Equal("whole_input", methodWholeInput.String())
}
