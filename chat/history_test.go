package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCuratedDropsInvalidModelTurns(t *testing.T) {
	t.Parallel()

	h := History{
		UserContent("hello"),
		ModelContent("hi there"),
		UserContent("again"),
		{Role: RoleModel, Parts: []Part{{Text: "   "}}}, // invalid
		{Role: RoleModel},                               // invalid: no parts
		ModelContent("recovered"),
	}

	curated := h.Curated()
	require.Len(t, curated, 4)
	assert.Equal(t, "hello", curated[0].Text())
	assert.Equal(t, "hi there", curated[1].Text())
	assert.Equal(t, "again", curated[2].Text())
	assert.Equal(t, "recovered", curated[3].Text())
}

func TestCuratedStripsThoughts(t *testing.T) {
	t.Parallel()

	h := History{
		UserContent("q"),
		{Role: RoleModel, Parts: []Part{ThoughtPart("let me think"), TextPart("answer")}},
		{Role: RoleModel, Parts: []Part{ThoughtPart("only thinking")}},
	}

	curated := h.Curated()
	require.Len(t, curated, 2)
	require.Len(t, curated[1].Parts, 1)
	assert.Equal(t, "answer", curated[1].Parts[0].Text)
	assert.False(t, curated[1].Parts[0].Thought)
	// Thought-only model content becomes empty after stripping and is dropped.
}

func TestCuratedIsDeepCopy(t *testing.T) {
	t.Parallel()

	h := History{UserContent("original")}
	curated := h.Curated()
	curated[0].Parts[0].Text = "mutated"
	assert.Equal(t, "original", h[0].Parts[0].Text)
}

func TestRecordConsolidatesAdjacentText(t *testing.T) {
	t.Parallel()

	var h History
	h = h.Record(UserContent("question"), []Content{
		ModelContent("part one, "),
		ModelContent("part two"),
	})

	require.Len(t, h, 2)
	assert.Equal(t, RoleUser, h[0].Role)
	assert.Equal(t, "part one, part two", h[1].Text())
	require.Len(t, h[1].Parts, 1)
}

func TestRecordDoesNotConsolidateAcrossFunctionCalls(t *testing.T) {
	t.Parallel()

	fnCall := Content{Role: RoleModel, Parts: []Part{
		{FunctionCall: &FunctionCall{Name: "web_search"}},
	}}

	var h History
	h = h.Record(UserContent("q"), []Content{
		ModelContent("before"),
		fnCall,
		ModelContent("after"),
	})

	require.Len(t, h, 4)
	assert.Equal(t, "before", h[1].Text())
	assert.NotNil(t, h[2].Parts[0].FunctionCall)
	assert.Equal(t, "after", h[3].Text())
}

func TestRecordOutputsConsolidatesWithExistingTail(t *testing.T) {
	t.Parallel()

	h := History{UserContent("q"), ModelContent("hel")}
	h = h.RecordOutputs([]Content{ModelContent("lo")})

	require.Len(t, h, 2)
	assert.Equal(t, "hello", h[1].Text())
}

func TestHistoryCopy(t *testing.T) {
	t.Parallel()

	var nilHist History
	assert.Nil(t, nilHist.Copy())

	h := History{UserContent("a")}
	cp := h.Copy()
	cp[0].Parts[0].Text = "b"
	assert.Equal(t, "a", h[0].Parts[0].Text)
}
