package reference_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/reference"
)

var chunks = []*model.MemoryChunk{
	{ID: "c-dog", Content: "Mi perro Toby adora correr en la playa de Cádiz", Source: model.SourceVector},
	{ID: "c-move", Content: "Se mudó a Madrid por un trabajo nuevo en marzo", Source: model.SourceEpisodic},
	{ID: "c-food", Content: "comida favorita: paella valenciana", Source: model.SourceKnowledge},
}

func TestDetectPatternAndOverlapAgree(t *testing.T) {
	reply := "¡Claro! Como me dijiste, Toby adora correr en la playa de Cádiz."
	matches := reference.New().Detect(reply, chunks)

	gt.A(t, matches).Length(1)
	m := matches[0]
	gt.Equal(t, m.Category, model.ReferenceConversation)
	gt.True(t, m.Pattern)
	gt.Equal(t, m.ChunkID, "c-dog")
	gt.True(t, m.Overlap >= 0.2)
	gt.True(t, m.Confidence > 0.8)
	gt.Equal(t, reply[m.Start:m.End], m.Text)
	gt.Equal(t, m.Text, "Como me dijiste")
}

func TestDetectLexicalOnly(t *testing.T) {
	reply := "Hoy hace sol. Se mudó a Madrid por trabajo nuevo en marzo, ¿verdad?"
	matches := reference.New().Detect(reply, chunks)

	gt.A(t, matches).Length(1)
	gt.Equal(t, matches[0].Category, model.ReferenceEvent)
	gt.False(t, matches[0].Pattern)
	gt.Equal(t, matches[0].ChunkID, "c-move")
	gt.Equal(t, matches[0].Start, len("Hoy hace sol. "))
}

func TestDetectWeakPatternIsDropped(t *testing.T) {
	// a person mention without supporting memory stays below the floor
	matches := reference.New().Detect("Saluda a tu hermana de mi parte.", chunks)
	gt.A(t, matches).Length(0)
}

func TestDetectPatternWithoutChunks(t *testing.T) {
	reply := "La última vez que hablamos estabas preparando un examen."
	matches := reference.New().Detect(reply, nil)
	gt.A(t, matches).Length(1)
	gt.Equal(t, matches[0].Category, model.ReferenceConversation)
	gt.Equal(t, matches[0].Confidence, 0.6)
	gt.Equal(t, matches[0].Start, 0)
}

func TestDetectSortedAndAboveFloor(t *testing.T) {
	reply := "You told me that your dog loves the beach. " +
		"Mi perro Toby adora correr en la playa de Cádiz. " +
		"Tu comida favorita es la paella valenciana."
	matches := reference.New().Detect(reply, chunks)
	gt.True(t, len(matches) >= 3)
	for i, m := range matches {
		gt.True(t, m.Confidence > reference.MinConfidence)
		if i > 0 {
			prev := matches[i-1]
			gt.True(t, prev.Confidence > m.Confidence ||
				(prev.Confidence == m.Confidence && prev.Start <= m.Start))
		}
	}
}

func TestDetectDoesNotModifyInput(t *testing.T) {
	reply := "Como me dijiste, te encanta la paella valenciana."
	before := reply
	_ = reference.New().Detect(reply, chunks)
	gt.Equal(t, reply, before)

	gt.A(t, reference.New().Detect("   ", chunks)).Length(0)
}
