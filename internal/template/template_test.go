package template

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldsInSegment(t *testing.T) {
	cases := []struct {
		segment string
		want    []string
	}{
		{"{semester-lexical}/{course}", []string{"semester-lexical", "course"}},
		{"{name}", []string{"name"}},
		{"no tokens here", nil},
		{"{name}-{name}", []string{"name"}},
	}
	for _, c := range cases {
		require.Equal(t, c.want, FieldsInSegment(c.segment), "FieldsInSegment(%q)", c.segment)
	}
}

func TestSplit(t *testing.T) {
	require.Equal(t, []string{"{a}", "{b}", "{c}"}, Split("{a}/{b}/{c}"))
	require.Nil(t, Split(""))
	require.Equal(t, []string{"{a}"}, Split("{a}"))
}

func TestRenderSubstitutesKnownTokens(t *testing.T) {
	tokens := map[string]string{"semester-lexical": "ss26", "course": "Algo"}
	got, err := Render("{semester-lexical}-{course}", tokens)
	require.NoError(t, err)
	require.Equal(t, "ss26-Algo", got)
}

func TestRenderFailsLoudlyOnMissingTokens(t *testing.T) {
	_, err := Render("{course}/{name}", map[string]string{"course": "Algo"})
	require.Error(t, err)
	var missingErr *MissingTokensError
	require.ErrorAs(t, err, &missingErr)
	require.Equal(t, []string{"name"}, missingErr.Missing)
}

func TestRenderReportsAllMissingTokensSorted(t *testing.T) {
	_, err := Render("{zeta}/{alpha}", map[string]string{})
	var missingErr *MissingTokensError
	require.ErrorAs(t, err, &missingErr)
	require.Equal(t, []string{"alpha", "zeta"}, missingErr.Missing)
}

func TestRequiredFieldsMapsKnownTokens(t *testing.T) {
	cases := []struct {
		segment string
		want    map[DataField]bool
	}{
		{"{semester-lexical}", map[DataField]bool{Semester: true}},
		{"{course}", map[DataField]bool{Course: true}},
		{"{short-path}/{name}", map[DataField]bool{File: true}},
		{"{course}-{name}", map[DataField]bool{Course: true, File: true}},
	}
	for _, c := range cases {
		got, err := RequiredFields(c.segment)
		require.NoError(t, err)
		require.Equal(t, c.want, got, "RequiredFields(%q)", c.segment)
	}
}

// TestRequiredFieldsTimeFallsBackToSemester mirrors spec.md §4.2's "time" rule:
// a bare {time} token, with no other token in the segment demanding more,
// only requires Semester data to render.
func TestRequiredFieldsTimeFallsBackToSemester(t *testing.T) {
	got, err := RequiredFields("{time}")
	require.NoError(t, err)
	require.Equal(t, map[DataField]bool{Semester: true}, got)
}

// TestRequiredFieldsTimeDoesNotDowngradeStrongerRequirement ensures {time}
// alongside a File-level token doesn't mask the stronger requirement.
func TestRequiredFieldsTimeDoesNotDowngradeStrongerRequirement(t *testing.T) {
	got, err := RequiredFields("{time}-{name}")
	require.NoError(t, err)
	require.Equal(t, map[DataField]bool{File: true}, got)
}

func TestRequiredFieldsUnknownTokenErrors(t *testing.T) {
	_, err := RequiredFields("{bogus}")
	require.Error(t, err)
	var unknownErr *UnknownFieldError
	require.ErrorAs(t, err, &unknownErr)
	require.Equal(t, "bogus", unknownErr.Field)
}

func TestDataFieldString(t *testing.T) {
	require.Equal(t, "Semester", Semester.String())
	require.Equal(t, "Course", Course.String())
	require.Equal(t, "File", File.String())
	require.Equal(t, "Unknown", DataField(99).String())
}
