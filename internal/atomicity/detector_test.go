package atomicity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/oracle"
	"github.com/vibeorch/engine/internal/resilience"
)

func testSetup(t *testing.T, client oracle.Client) *Detector {
	t.Helper()
	registry, err := config.Init("")
	require.NoError(t, err)
	t.Cleanup(config.Teardown)
	tm := resilience.New(registry, nil)
	return New(client, tm, registry)
}

func TestCheckDeterministicRuleViolation(t *testing.T) {
	d := testSetup(t, &oracle.StubClient{})
	task := model.Task{
		Title:              "build and deploy the service",
		AcceptanceCriteria: []string{"one"},
	}
	v := d.Check(context.Background(), task, model.ProjectContext{})
	assert.False(t, v.IsAtomic)
	assert.Equal(t, 0.0, v.Confidence)
	assert.Contains(t, v.Warnings, "multiple actions")
}

func TestCheckEscalatesToOracleWhenRulesPass(t *testing.T) {
	client := &oracle.StubClient{Responses: map[string]string{
		"Is this task atomic": `{"isAtomic": true, "confidence": 0.95, "reasoning": "clean"}`,
	}}
	d := testSetup(t, client)
	task := model.Task{
		Title:              "rename the config key",
		AcceptanceCriteria: []string{"key renamed"},
		FilePaths:          []string{"config.go"},
		EstimatedMinutes:   5,
	}
	v := d.Check(context.Background(), task, model.ProjectContext{})
	assert.True(t, v.IsAtomic)
	assert.Equal(t, 0.95, v.Confidence)
}

func TestCheckFallsBackOnOracleFailure(t *testing.T) {
	d := testSetup(t, &oracle.StubClient{Err: assertAnError{}})
	task := model.Task{
		Title:              "rename the config key",
		AcceptanceCriteria: []string{"key renamed"},
	}
	v := d.Check(context.Background(), task, model.ProjectContext{})
	assert.False(t, v.IsAtomic)
	assert.Equal(t, 0.4, v.Confidence)
	assert.Equal(t, "oracle unavailable", v.Reasoning)
}

func TestCheckRejectsLowConfidence(t *testing.T) {
	client := &oracle.StubClient{Responses: map[string]string{
		"Is this task atomic": `{"isAtomic": true, "confidence": 0.1, "reasoning": "unsure"}`,
	}}
	d := testSetup(t, client)
	task := model.Task{
		Title:              "rename the config key",
		AcceptanceCriteria: []string{"key renamed"},
	}
	v := d.Check(context.Background(), task, model.ProjectContext{})
	assert.False(t, v.IsAtomic)
	assert.Equal(t, 0.0, v.Confidence)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "oracle down" }
