package reference

import (
	"regexp"

	"github.com/m-mizutani/kioku/pkg/model"
)

type patternFamily struct {
	category   model.ReferenceCategory
	confidence float64
	patterns   []*regexp.Regexp
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

const (
	relatives   = `(hermano|hermana|madre|mama|padre|papa|esposa|esposo|pareja|novia|novio|amigo|amiga|hijo|hija|abuela|abuelo|tio|tia|primo|prima|jefe|jefa|perro|perra|gato|gata)`
	enRelatives = `(brother|sister|mother|mom|father|dad|wife|husband|partner|girlfriend|boyfriend|friend|son|daughter|grandmother|grandma|grandfather|grandpa|uncle|aunt|cousin|boss|dog|cat)`
	tastes      = `(comida|color|pelicula|libro|musica|cancion|serie|deporte|banda|lugar|bebida)`
)

// Patterns run against folded text (lowercase, no diacritics). A pattern
// alone is weak evidence; lexical overlap with a retrieved chunk confirms it.
var families = []patternFamily{
	{
		category:   model.ReferenceConversation,
		confidence: 0.6,
		patterns: compile(
			`\bcomo (me )?(dijiste|comentaste|mencionaste|contaste)\b`,
			`\b(me )?(dijiste|contaste|comentaste|mencionaste) que\b`,
			`\b(hablamos|conversamos|platicamos) (de|sobre|acerca)\b`,
			`\bla ultima vez que (hablamos|nos vimos)\b`,
			`\brecuerdo que (me )?(dijiste|contaste|comentaste)\b`,
			`\bas you (said|mentioned|told me)\b`,
			`\byou (told me|mentioned|said) (that|about)\b`,
			`\bwe (talked|spoke|chatted) about\b`,
			`\bi remember you (said|told me|mentioned)\b`,
		),
	},
	{
		category:   model.ReferenceEvent,
		confidence: 0.55,
		patterns: compile(
			`\bcuando (fuiste|fuimos|te mudaste|empezaste|terminaste|viajaste|conociste|perdiste|ganaste)\b`,
			`\b(tu|el) viaje a\b`,
			`\bte (mudaste|graduaste|casaste|operaron)\b`,
			`\bwhen you (went|moved|started|finished|visited|met|lost|won)\b`,
			`\byour (trip|move|wedding|graduation) to\b`,
			`\byou (moved|graduated|got married)\b`,
		),
	},
	{
		category:   model.ReferenceFact,
		confidence: 0.5,
		patterns: compile(
			`\btu `+tastes+` favorit[oa]\b`,
			`\bte (gusta|gustan|encanta|encantan)\b`,
			`\b(tu|su) (nombre|cumpleanos|trabajo|ciudad|profesion|edad)\b`,
			`\byour favou?rite\b`,
			`\byou (like|love|prefer|enjoy)\b`,
			`\byour (name|birthday|job|city|age)\b`,
		),
	},
	{
		category:   model.ReferencePerson,
		confidence: 0.45,
		patterns: compile(
			`\b(tu|tus) `+relatives+`s?\b`,
			`\byour `+enRelatives+`s?\b`,
		),
	},
}
