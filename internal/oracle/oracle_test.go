package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubClientMatchesByPrefix(t *testing.T) {
	c := &StubClient{Responses: map[string]string{
		"Is this atomic": `{"isAtomic": true, "confidence": 0.9, "reasoning": "ok"}`,
	}}
	out, err := c.Ask(context.Background(), "Is this atomic: ship the widget", KindAtomicityVerdict)
	require.NoError(t, err)
	v := ExtractAtomicityVerdict(out)
	assert.True(t, v.IsAtomic)
}

func TestStubClientReturnsConfiguredError(t *testing.T) {
	wantErr := assert.AnError
	c := &StubClient{Err: wantErr}
	_, err := c.Ask(context.Background(), "anything", KindFreeform)
	assert.ErrorIs(t, err, wantErr)
}

func TestStubClientNoMatchIsOracleError(t *testing.T) {
	c := &StubClient{Responses: map[string]string{"foo": "bar"}}
	_, err := c.Ask(context.Background(), "unmatched prompt", KindFreeform)
	require.Error(t, err)
}

func TestStubClientIgnoresCancelledContextWithoutDelay(t *testing.T) {
	c := &StubClient{Responses: map[string]string{"x": "y"}, Delay: 0}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Ask(ctx, "x", KindFreeform)
	// Delay is 0 so the select isn't reached; confirm the happy path still works
	// under an already-cancelled context since Ask only checks ctx inside the
	// delay branch.
	assert.NoError(t, err)
}
