package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAtomicityVerdictPlainJSON(t *testing.T) {
	v := ExtractAtomicityVerdict(`{"isAtomic": true, "confidence": 0.92, "reasoning": "single file, single AC"}`)
	assert.True(t, v.IsAtomic)
	assert.Equal(t, 0.92, v.Confidence)
	assert.Equal(t, "single file, single AC", v.Reasoning)
}

func TestExtractAtomicityVerdictStripsCodeFence(t *testing.T) {
	v := ExtractAtomicityVerdict("```json\n{\"isAtomic\": false, \"confidence\": 0.2, \"reasoning\": \"too broad\"}\n```")
	assert.False(t, v.IsAtomic)
	assert.Equal(t, 0.2, v.Confidence)
}

func TestExtractAtomicityVerdictFallsBackOnGarbage(t *testing.T) {
	v := ExtractAtomicityVerdict("I cannot determine this.")
	assert.False(t, v.IsAtomic)
	assert.Equal(t, 0.4, v.Confidence)
	assert.Equal(t, "oracle unavailable", v.Reasoning)
}

func TestExtractAtomicityVerdictClampsConfidence(t *testing.T) {
	v := ExtractAtomicityVerdict(`{"isAtomic": true, "confidence": 1.5, "reasoning": "x"}`)
	assert.Equal(t, 1.0, v.Confidence)
}

func TestExtractSubtasks(t *testing.T) {
	raw := `{
		"children": [
			{"title": "a", "description": "do a", "estimatedMinutes": 10, "filePaths": ["a.go"], "acceptanceCriteria": ["passes"], "dependencies": []},
			{"title": "b", "description": "do b", "estimatedMinutes": 15, "filePaths": ["b.go"], "acceptanceCriteria": ["passes"], "dependencies": [0]}
		]
	}`
	drafts, err := ExtractSubtasks(raw)
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "a", drafts[0].Title)
	assert.Equal(t, []int{0}, drafts[1].DependsOnIndices)
}

func TestExtractSubtasksRejectsNonJSON(t *testing.T) {
	_, err := ExtractSubtasks("not json at all")
	require.Error(t, err)
}

func TestExtractSubtasksRejectsMissingChildren(t *testing.T) {
	_, err := ExtractSubtasks(`{"foo": "bar"}`)
	require.Error(t, err)
}
