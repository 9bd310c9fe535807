package export

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
	conversationsvc "github.com/zhouzirui/manomitra-client/internal/service/conversation"
)

var exportedAt = time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

// sampleLog builds ten turns, three of them tagged sad.
func sampleLog() []conversation.Turn {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	store := conversationsvc.NewStore(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	emotions := []conversation.Emotion{
		conversation.Neutral, conversation.Sad, conversation.Happy, conversation.Sad, conversation.Fear,
	}
	for i, emotion := range emotions {
		user := conversation.NewUserTurn(fmt.Sprintf("user message %d", i), conversation.ModalitySpeech, emotion)
		user.Confidence = 0.9
		store.AppendTurn(user)

		if i < 4 {
			store.AppendTurn(conversation.NewAgentTurn(fmt.Sprintf("reply %d", i), emotion))
		}
	}
	store.AppendTurn(conversation.NewUserTurn("still low", conversation.ModalityText, conversation.Sad))
	return store.Turns()
}

func roundTrip(t *testing.T, doc Document) []conversation.Turn {
	t.Helper()
	data, err := Marshal(doc)
	require.NoError(t, err)
	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	turns, err := ImportSnapshot(decoded)
	require.NoError(t, err)
	return turns
}

func TestRoundTrip(t *testing.T) {
	turns := sampleLog()
	require.Len(t, turns, 10)

	doc := ExportSnapshot(turns, nil, Meta{SessionID: "session-1", ExportedAt: exportedAt})
	assert.Equal(t, turns, roundTrip(t, doc))
}

func TestRoundTripEmptyLog(t *testing.T) {
	empty := conversationsvc.NewStore(nil).Turns()

	doc := ExportSnapshot(empty, nil, Meta{ExportedAt: exportedAt})
	assert.Zero(t, doc.Count)
	assert.Equal(t, empty, roundTrip(t, doc))
}

func TestExportWithEmotionCriteria(t *testing.T) {
	turns := sampleLog()
	criteria := &conversation.Criteria{Emotion: conversation.Sad}

	doc := ExportSnapshot(turns, criteria, Meta{ExportedAt: exportedAt})

	require.Equal(t, 3, doc.Count)
	require.Len(t, doc.Turns, 3)
	for i := 1; i < len(doc.Turns); i++ {
		assert.Less(t, doc.Turns[i-1].ID, doc.Turns[i].ID, "order preserved")
	}
	for _, turn := range doc.Turns {
		assert.Equal(t, conversation.Sad, turn.Emotion)
	}
	assert.Equal(t, criteria, doc.Criteria)
	assert.NotSame(t, criteria, doc.Criteria)
}

func TestExportIsDeterministic(t *testing.T) {
	turns := sampleLog()
	meta := Meta{SessionID: "s", ExportedAt: exportedAt}

	first, err := Marshal(ExportSnapshot(turns, nil, meta))
	require.NoError(t, err)
	second, err := Marshal(ExportSnapshot(turns, nil, meta))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDocumentShape(t *testing.T) {
	data, err := Marshal(ExportSnapshot(nil, nil, Meta{ExportedAt: exportedAt}))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"format": "manomitra.conversation/v1",
		"turns": [],
		"criteria": null,
		"exportedAt": "2025-06-01T12:30:00Z",
		"count": 0
	}`, string(data))
}

func TestImportRejectsInconsistentDocuments(t *testing.T) {
	turns := sampleLog()

	doc := ExportSnapshot(turns, nil, Meta{ExportedAt: exportedAt})
	doc.Count = 2
	_, err := ImportSnapshot(doc)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	doc = ExportSnapshot(turns, nil, Meta{ExportedAt: exportedAt})
	doc.Format = "something-else/v9"
	_, err = ImportSnapshot(doc)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	doc = ExportSnapshot(turns[:1], nil, Meta{ExportedAt: exportedAt})
	doc.Turns[0].Emotion = "ecstatic"
	_, err = ImportSnapshot(doc)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = Unmarshal([]byte("{"))
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestFileRoundTrip(t *testing.T) {
	turns := sampleLog()
	doc := ExportSnapshot(turns, nil, Meta{SessionID: "s", ExportedAt: exportedAt})
	dir := t.TempDir()

	for _, name := range []string{"history.json", "nested/history.json.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, WriteFile(path, doc))

			loaded, err := ReadFile(path)
			require.NoError(t, err)
			imported, err := ImportSnapshot(loaded)
			require.NoError(t, err)
			assert.Equal(t, turns, imported)
			assert.Equal(t, "s", loaded.SessionID)
		})
	}

	raw, err := os.ReadFile(filepath.Join(dir, "nested/history.json.gz"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, raw[:2], "gzip magic")
}
