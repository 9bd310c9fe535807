// Package export converts the conversation log to and from portable documents.
package export

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
)

// Format identifies the document layout.
const Format = "manomitra.conversation/v1"

var (
	ErrInvalidDocument   = errors.New("invalid conversation document")
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

var codec = sonic.ConfigStd

// Document is the exported form of a (possibly filtered) conversation log.
type Document struct {
	Format     string                 `json:"format"`
	SessionID  string                 `json:"sessionId,omitempty"`
	Turns      []conversation.Turn    `json:"turns"`
	Criteria   *conversation.Criteria `json:"criteria"`
	ExportedAt time.Time              `json:"exportedAt"`
	Count      int                    `json:"count"`
}

// Meta carries the inputs of an export that do not come from the log.
type Meta struct {
	SessionID  string
	ExportedAt time.Time
}

// ExportSnapshot builds a document from turns, keeping only those matching
// criteria when it is set. Output depends on the arguments alone.
func ExportSnapshot(turns []conversation.Turn, criteria *conversation.Criteria, meta Meta) Document {
	selected := make([]conversation.Turn, 0, len(turns))
	for _, turn := range turns {
		if criteria == nil || criteria.Match(turn) {
			selected = append(selected, turn)
		}
	}

	var used *conversation.Criteria
	if criteria != nil {
		copied := *criteria
		used = &copied
	}

	return Document{
		Format:     Format,
		SessionID:  meta.SessionID,
		Turns:      selected,
		Criteria:   used,
		ExportedAt: meta.ExportedAt.UTC(),
		Count:      len(selected),
	}
}

// ImportSnapshot validates a document and returns its turns in order.
func ImportSnapshot(doc Document) ([]conversation.Turn, error) {
	if doc.Format != "" && doc.Format != Format {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, doc.Format)
	}
	if doc.Count != len(doc.Turns) {
		return nil, fmt.Errorf("%w: count %d but %d turns", ErrInvalidDocument, doc.Count, len(doc.Turns))
	}

	turns := make([]conversation.Turn, 0, len(doc.Turns))
	for i, turn := range doc.Turns {
		if err := validateTurn(turn); err != nil {
			return nil, fmt.Errorf("%w: turn %d: %v", ErrInvalidDocument, i, err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Marshal encodes a document as indented JSON.
func Marshal(doc Document) ([]byte, error) {
	if doc.Turns == nil {
		doc.Turns = []conversation.Turn{}
	}
	data, err := codec.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a document without validating its turns.
func Unmarshal(data []byte) (Document, error) {
	var doc Document
	if err := codec.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

func validateTurn(turn conversation.Turn) error {
	if turn.Text == "" {
		return errors.New("empty text")
	}

	switch turn.Sender {
	case conversation.SenderUser, conversation.SenderAgent:
	default:
		return fmt.Errorf("unknown sender %q", turn.Sender)
	}

	switch turn.Modality {
	case conversation.ModalitySpeech, conversation.ModalityText:
	default:
		return fmt.Errorf("unknown modality %q", turn.Modality)
	}

	if _, ok := conversation.ParseEmotion(string(turn.Emotion)); !ok {
		return fmt.Errorf("unknown emotion %q", turn.Emotion)
	}
	return nil
}
