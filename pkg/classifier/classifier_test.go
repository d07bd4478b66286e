package classifier_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/classifier"
	"github.com/m-mizutani/kioku/pkg/model"
)

type detectionCase struct {
	message  string
	qt       model.QueryType
	minConf  float64
	keywords []string
}

func runDetectionCases(t *testing.T, cases []detectionCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			d := classifier.Classify(tc.message)
			gt.True(t, d.IsQuery)
			gt.Equal(t, d.QueryType, tc.qt)
			gt.True(t, d.Confidence >= tc.minConf)
			for _, kw := range tc.keywords {
				gt.True(t, slices.Contains(d.Keywords, kw))
			}
		})
	}
}

func TestRecall(t *testing.T) {
	runDetectionCases(t, []detectionCase{
		{"¿Recuerdas cuando te conté sobre mi perro?", model.QueryTypeRecall, 0.85, []string{"perro"}},
		{"¿Te acuerdas de mi cumpleaños?", model.QueryTypeRecall, 0.85, []string{"cumpleaños"}},
		{"¿Sabes lo que me pasó ayer?", model.QueryTypeRecall, 0.85, nil},
		{"¿Recuerdas cuando fuimos a la playa?", model.QueryTypeRecall, 0.85, []string{"playa"}},
		{"Do you remember our trip to Lisbon?", model.QueryTypeRecall, 0.85, []string{"lisbon"}},
	})
}

func TestVerification(t *testing.T) {
	runDetectionCases(t, []detectionCase{
		{"¿Te dije que me mudé a Madrid?", model.QueryTypeVerification, 0.8, []string{"mudé", "madrid"}},
		{"¿Te conté que tengo un gato?", model.QueryTypeVerification, 0.8, []string{"gato"}},
		{"¿Te mencioné mi trabajo nuevo?", model.QueryTypeVerification, 0.8, []string{"trabajo", "nuevo"}},
		{"Did I tell you about the concert?", model.QueryTypeVerification, 0.8, []string{"concert"}},
	})
}

func TestRetrieval(t *testing.T) {
	runDetectionCases(t, []detectionCase{
		{"¿Qué te dije sobre mi familia?", model.QueryTypeRetrieval, 0.9, []string{"familia"}},
		{"¿Cuál era el nombre que te mencioné?", model.QueryTypeRetrieval, 0.9, []string{"nombre"}},
		{"¿De qué hablamos la última vez?", model.QueryTypeRetrieval, 0.9, nil},
		{"What did I tell you about my sister?", model.QueryTypeRetrieval, 0.9, []string{"sister"}},
	})
}

func TestPastReference(t *testing.T) {
	runDetectionCases(t, []detectionCase{
		{"La última vez que hablamos de esto", model.QueryTypeRecall, 0.6, nil},
		{"Dijiste que te gustaba el chocolate", model.QueryTypeRecall, 0.6, []string{"chocolate"}},
		{"Hablamos de mi proyecto ayer", model.QueryTypeRecall, 0.6, []string{"proyecto"}},
		{"Cuando te dije mi nombre", model.QueryTypeRecall, 0.6, []string{"nombre"}},
		{"You said you liked jazz", model.QueryTypeRecall, 0.6, []string{"jazz"}},
	})

	d := classifier.Classify("La última vez que hablamos de esto")
	gt.Equal(t, d.Tier, "past_reference")
	gt.Equal(t, d.TemporalHint, model.TemporalPast)
	gt.True(t, d.Confidence <= 0.8)
}

func TestPersonalInfo(t *testing.T) {
	d := classifier.Classify("¿Cuándo es mi cumpleaños?")
	gt.True(t, d.IsQuery)
	gt.Equal(t, d.QueryType, model.QueryTypeRecall)
	gt.Equal(t, d.Tier, "personal_info")
	gt.Equal(t, d.Confidence, 0.75)
	gt.True(t, slices.Contains(d.Keywords, "cumpleaños"))

	d = classifier.Classify("What is my favorite color?")
	gt.Equal(t, d.Tier, "personal_info")
}

func TestKeywordDensityFallback(t *testing.T) {
	d := classifier.Classify("Ayer olvidé lo que pasó antes")
	gt.True(t, d.IsQuery)
	gt.Equal(t, d.Tier, "keyword_density")
	gt.True(t, d.Confidence >= 0.4 && d.Confidence <= 0.6)

	// one memory word in a long message is not enough
	d = classifier.Classify("Ayer fui al mercado y compré manzanas, peras y naranjas para la semana")
	gt.False(t, d.IsQuery)

	// time words alone do not make a memory query
	for _, msg := range []string{
		"Otra vez tengo hambre antes de comer",
		"Anoche cené antes de las diez",
	} {
		d = classifier.Classify(msg)
		gt.False(t, d.IsQuery)
	}
}

func TestTemporalHint(t *testing.T) {
	cases := map[string]model.TemporalHint{
		"¿Recuerdas lo que pasó hace poco?":       model.TemporalRecent,
		"¿Recuerdas lo que pasó ayer?":            model.TemporalSpecific,
		"¿Recuerdas lo que pasó antes?":           model.TemporalPast,
		"¿Recuerdas mi nombre?":                   model.TemporalNone,
		"¿Recuerdas lo que desayuné esta mañana?": model.TemporalRecent,
		// recent wins over specific
		"¿Recuerdas lo que te dije ayer, hace poco?": model.TemporalRecent,
	}
	for msg, want := range cases {
		t.Run(msg, func(t *testing.T) {
			d := classifier.Classify(msg)
			gt.True(t, d.IsQuery)
			gt.Equal(t, d.TemporalHint, want)
		})
	}
}

func TestNonQueries(t *testing.T) {
	for _, msg := range []string{
		"¿Cómo estás hoy?",
		"Me gusta el café",
		"¿Qué vas a hacer mañana?",
		"¿Vas a venir mañana?",
		"Estoy cansado ahora",
		"Are you going to the party tomorrow?",
		"",
		"   ",
		"¿?",
		"¿¡!?",
	} {
		t.Run(msg, func(t *testing.T) {
			d := classifier.Classify(msg)
			gt.False(t, d.IsQuery)
			gt.Equal(t, d.QueryType, model.QueryTypeNone)
			gt.Equal(t, d.Confidence, 0.0)
			gt.A(t, d.Keywords).Length(0)
		})
	}
}

func TestFutureFilterWinsOverPersonalInfo(t *testing.T) {
	d := classifier.Classify("¿Cuál es mi comida favorita para mañana?")
	gt.False(t, d.IsQuery)
}

func TestKeywords(t *testing.T) {
	d := classifier.Classify("¿Recuerdas mi cumpleaños en diciembre?")
	gt.True(t, slices.Contains(d.Keywords, "cumpleaños"))
	gt.True(t, slices.Contains(d.Keywords, "diciembre"))

	d = classifier.Classify("¿Te dije que me gusta el chocolate?")
	gt.True(t, slices.Contains(d.Keywords, "chocolate"))
	for _, stop := range []string{"el", "que", "me", "dije"} {
		for _, kw := range d.Keywords {
			gt.NotEqual(t, kw, stop)
		}
	}

	d = classifier.Classify("¿Recuerdas cuando te conté sobre mi viaje increíble a España donde visité Madrid Barcelona Valencia Sevilla Granada Bilbao Málaga Córdoba Toledo y muchas otras ciudades?")
	gt.A(t, d.Keywords).Length(10)
	gt.Equal(t, d.Keywords[0], "viaje")
	gt.Equal(t, d.Keywords[1], "increíble")

	d = classifier.Classify("¿Recuerdas Madrid? Sí, madrid, MADRID")
	gt.Equal(t, d.Keywords, []string{"madrid"})
}

func TestCaseInsensitive(t *testing.T) {
	upper := classifier.Classify("¿RECUERDAS MI NOMBRE?")
	lower := classifier.Classify("¿recuerdas mi nombre?")
	gt.True(t, upper.IsQuery)
	gt.True(t, lower.IsQuery)
	gt.Equal(t, upper.QueryType, lower.QueryType)
	gt.Equal(t, upper.Confidence, lower.Confidence)
}

func TestRealWorldExamples(t *testing.T) {
	runDetectionCases(t, []detectionCase{
		{"¿Recuerdas cuándo es mi cumpleaños?", model.QueryTypeRecall, 0.4, []string{"cumpleaños"}},
		{"¿Cómo te dije que se llamaba mi hermano?", model.QueryTypeRetrieval, 0.4, []string{"hermano"}},
		{"¿Te conté en qué trabajo?", model.QueryTypeVerification, 0.4, []string{"trabajo"}},
		{"¿Recuerdas cuál es mi comida favorita?", model.QueryTypeRecall, 0.4, []string{"comida", "favorita"}},
		{"¿Te mencioné dónde vivo?", model.QueryTypeVerification, 0.4, []string{"vivo"}},
	})
}

func TestExtractTopic(t *testing.T) {
	gt.S(t, classifier.ExtractTopic("¿Recuerdas cuando te hablé de mi perro?")).Contains("perro")
	gt.S(t, classifier.ExtractTopic("¿Qué te dije sobre mi familia?")).Contains("familia")
	gt.S(t, strings.ToLower(classifier.ExtractTopic("¿Te conté que me mudé a Madrid?"))).Contains("madrid")

	topic := classifier.ExtractTopic("¿Recuerdas cuando te conté sobre mi perro?")
	gt.Equal(t, topic, "perro")

	// detection carries the same topic
	d := classifier.Classify("¿Qué te dije sobre mi familia?")
	gt.Equal(t, d.Topic, "familia")

	// only function words: falls back to the raw message
	gt.Equal(t, classifier.ExtractTopic("¿Te acuerdas?"), "¿Te acuerdas?")

	long := strings.Repeat("a ", 80)
	gt.True(t, len([]rune(classifier.ExtractTopic(long))) <= 100)
}

func TestTiersAreIndependentlyMatchable(t *testing.T) {
	tiers := classifier.New().Tiers()
	names := make([]string, len(tiers))
	for i, tier := range tiers {
		names[i] = tier.Name
	}
	gt.Equal(t, names, []string{
		"future", "retrieval", "recall", "verification", "personal_info", "past_reference", "keyword_density",
	})

	future := tiers[0]
	gt.True(t, future.Negative)
	_, ok := future.Match("¿Vas a venir mañana?")
	gt.True(t, ok)
	_, ok = future.Match("¿Qué desayunaste esta mañana?")
	gt.False(t, ok)

	// spans are reported in the original message
	start, ok := tiers[3].Match("Hola. ¿Te conté que me mudé?")
	gt.True(t, ok)
	gt.True(t, start <= strings.Index("Hola. ¿Te conté que me mudé?", "¿Te"))
}

func TestClassifyLatency(t *testing.T) {
	start := time.Now()
	for range 100 {
		classifier.Classify("¿Recuerdas cuando te hablé de mi familia?")
	}
	gt.True(t, time.Since(start) < 1500*time.Millisecond)
}
