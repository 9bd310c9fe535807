package emotion

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
)

func TestClassifyFallsBackWithoutModel(t *testing.T) {
	svc, err := NewService(context.Background(), nil, Config{Enabled: true}, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, svc.Enabled())

	decision := svc.Classify(context.Background(), "I'm scared of tomorrow")
	assert.Equal(t, conversation.Fear, decision.Emotion)
}

func TestParseClassifierOutput(t *testing.T) {
	payload, err := parseClassifierOutput("Sure! {\"emotion\": \"sad\", \"confidence\": 0.8} hope that helps")
	require.NoError(t, err)
	assert.Equal(t, "sad", payload.Emotion)
	assert.InDelta(t, 0.8, payload.Confidence, 1e-9)

	_, err = parseClassifierOutput("no json here")
	assert.Error(t, err)
}
