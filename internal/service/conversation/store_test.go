package conversation_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/manomitra-client/internal/model/conversation"
	"github.com/zhouzirui/manomitra-client/internal/service/conversation"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func TestAppendTurnAssignsMonotonicIDs(t *testing.T) {
	clock := newClock()
	store := conversation.NewStore(clock.Now)

	lengths := []int{store.Len()}
	var lastID int64
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		turn := store.AppendTurn(model.NewUserTurn(fmt.Sprintf("turn %d", i), model.ModalityText, model.Neutral))
		assert.Greater(t, turn.ID, lastID)
		assert.Equal(t, clock.now, turn.Timestamp)
		lastID = turn.ID
		lengths = append(lengths, store.Len())
	}

	for i := 1; i < len(lengths); i++ {
		assert.Equal(t, lengths[i-1]+1, lengths[i])
	}

	store.Clear()
	assert.Zero(t, store.Len())

	next := store.AppendTurn(model.NewAgentTurn("hello again", ""))
	assert.Greater(t, next.ID, lastID, "ids stay unique across clear")
}

func TestClearResetsEmotionAndClock(t *testing.T) {
	clock := newClock()
	store := conversation.NewStore(clock.Now)
	store.SetCurrentEmotion(model.Sad)
	store.AppendTurn(model.NewUserTurn("hi", model.ModalityText, model.Sad))

	clock.Advance(time.Hour)
	store.Clear()

	assert.Equal(t, model.Neutral, store.CurrentEmotion())
	assert.Equal(t, clock.now, store.StartedAt())
	assert.Empty(t, store.Turns())
}

func TestSetCurrentEmotionIsIdempotent(t *testing.T) {
	store := conversation.NewStore(nil)

	assert.True(t, store.SetCurrentEmotion(model.Happy))
	assert.False(t, store.SetCurrentEmotion(model.Happy))
	assert.Equal(t, model.Happy, store.CurrentEmotion())
}

func TestFilterIsReadOnlySubset(t *testing.T) {
	store := conversation.NewStore(nil)
	texts := []string{"Today was fine", "nothing", "TOTALLY great", "ok", "the end"}
	for _, text := range texts {
		store.AppendTurn(model.NewUserTurn(text, model.ModalityText, model.Neutral))
	}

	view := store.Filter(model.Criteria{Text: "t", Emotion: model.Any, Modality: model.Any}.Predicate())
	matched := view.Collect()

	assert.LessOrEqual(t, len(matched), store.Len())
	for _, turn := range matched {
		assert.Contains(t, strings.ToLower(turn.Text), "t")
	}
	assert.Len(t, matched, 4)
	assert.Equal(t, 4, view.Count())
	assert.Equal(t, 5, store.Len(), "filtering never mutates the log")
}

func TestViewIsStableAcrossLaterWrites(t *testing.T) {
	store := conversation.NewStore(nil)
	store.AppendTurn(model.NewUserTurn("first", model.ModalityText, model.Neutral))

	view := store.Filter(nil)
	store.AppendTurn(model.NewUserTurn("second", model.ModalityText, model.Neutral))
	store.Clear()
	store.AppendTurn(model.NewUserTurn("third", model.ModalityText, model.Neutral))

	got := view.Collect()
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Text)
}

func TestStatisticsDerivedFromLog(t *testing.T) {
	clock := newClock()
	store := conversation.NewStore(clock.Now)

	store.AppendTurn(model.NewUserTurn("I lost my keys", model.ModalitySpeech, model.Sad))
	store.AppendTurn(model.NewAgentTurn("That sounds stressful", model.Sad))
	store.AppendTurn(model.NewUserTurn("found them!", model.ModalityText, model.Happy))
	clock.Advance(42 * time.Second)

	stats := store.Statistics()
	assert.Equal(t, 2, stats.TotalUserTurns)
	assert.ElementsMatch(t, []model.Emotion{model.Sad, model.Happy, model.Empathetic}, stats.EmotionsObserved)
	assert.InDelta(t, 42, stats.DurationSeconds, 0.001)
}
