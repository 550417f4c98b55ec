package extract

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hochfrequenz/porkchop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_RepairsInnerQuotes(t *testing.T) {
	input := `[{"severity":"high","description":"has "inner" quotes","lines":null,"type":"x"}]`

	issues, err := Extract(input)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, domain.SeverityHigh, issues[0].Severity)
	assert.Equal(t, `has "inner" quotes`, issues[0].Description)
	assert.Nil(t, issues[0].Lines)
	assert.Equal(t, "x", issues[0].Type)

	_, err = Parse(input)
	assert.ErrorIs(t, err, ErrMalformedJSON, "without repair the input must not parse")
}

func TestExtract_EmptyResponse(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t", "```json\n\n```"} {
		_, err := Extract(in)
		assert.ErrorIs(t, err, ErrEmptyResponse, "input %q", in)
		assert.ErrorIs(t, err, ErrResponseFormat, "input %q", in)
	}
}

func TestExtract_IdempotentOnWellFormed(t *testing.T) {
	input := `[
		{"severity":"medium","description":"uses \"latest\" tag","lines":[3,4],"type":"portability"},
		{"severity":"low","description":"missing doc","lines":null,"type":"usability"}
	]`

	repaired, err := Extract(input)
	require.NoError(t, err)
	plain, err := Parse(input)
	require.NoError(t, err)

	if diff := cmp.Diff(plain, repaired); diff != "" {
		t.Errorf("repair changed well-formed input (-plain +repaired):\n%s", diff)
	}
	assert.Equal(t, []int{3, 4}, repaired[0].Lines)
	assert.Equal(t, `uses "latest" tag`, repaired[0].Description)
}

func TestExtract_Fenced(t *testing.T) {
	issues, err := Extract("```json\n[{\"severity\":\"low\",\"description\":\"d\",\"type\":\"t\"}]\n```")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "d", issues[0].Description)
}

func TestExtract_EmptyArray(t *testing.T) {
	issues, err := Extract("[]")
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"object at top level", `{"severity":"high"}`, ErrUnexpectedShape},
		{"string at top level", `"hello"`, ErrUnexpectedShape},
		{"not json", `no issues found`, ErrMalformedJSON},
		{"bad severity", `[{"severity":"critical","description":"d","type":"t"}]`, ErrInvalidIssue},
		{"missing description", `[{"severity":"low","type":"t"}]`, ErrInvalidIssue},
		{"non-integer line", `[{"severity":"low","description":"d","lines":[1.5],"type":"t"}]`, ErrInvalidIssue},
		{"lines not array", `[{"severity":"low","description":"d","lines":"3","type":"t"}]`, ErrInvalidIssue},
		{"type not string", `[{"severity":"low","description":"d","type":7}]`, ErrInvalidIssue},
		{"missing type", `[{"severity":"high","description":"d","lines":null}]`, ErrInvalidIssue},
		{"null type", `[{"severity":"high","description":"d","lines":null,"type":null}]`, ErrInvalidIssue},
		{"element not object", `[{"severity":"low","description":"d","type":"t"}, 3]`, ErrInvalidIssue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues, err := Extract(tt.input)
			assert.Nil(t, issues)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrResponseFormat)
		})
	}
}

func TestExtract_OpenTypeTaxonomy(t *testing.T) {
	issues, err := Extract(`[{"severity":"high","description":"d","type":"brand_new_category"}]`)
	require.NoError(t, err)
	assert.Equal(t, "brand_new_category", issues[0].Type)
}
