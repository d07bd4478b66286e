package classifier

import (
	"regexp"
	"strings"
)

// All patterns run against folded text: lowercase without diacritics, so
// "¿Qué te dije?" is matched as "¿que te dije?".

const (
	commVerbs  = `(dije|conte|mencione|comente|explique|hable)`
	pastTalk   = `(hablamos|conversamos|platicamos|charlamos)`
	whWords    = `(que|como|donde|cual|cuales|quien|cuando|cuanto)`
	dayNames   = `(lunes|martes|miercoles|jueves|viernes|sabado|domingo)`
	monthNames = `(enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|setiembre|octubre|noviembre|diciembre)`
	enDayNames = `(monday|tuesday|wednesday|thursday|friday|saturday|sunday)`
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// daytime phrases that contain "manana" but do not point to the future
var daytimeMorning = regexp.MustCompile(`\b(esta|por la|de la|en la|cada|toda la) manana\b`)

var futurePatterns = compile(
	`\b(voy|vas|va|vamos|vais|van) a\b`,
	`\bmanana\b`,
	`\b(la|el) (proxima|proximo) (semana|mes|ano|vez|lunes|martes|miercoles|jueves|viernes|sabado|domingo)\b`,
	`\bproxima semana\b`,
	`\bplan(es)? (para|de)\b`,
	`\b(planeo|planeas|planea|planeamos)\b`,
	`\b(hare|haras|hara|haremos|ire|iras|iremos|vendre|vendras|vendra|vendremos|tendre|tendras|tendra|podre|podras|podra|saldre|saldras|saldra|estare|estaras|estara|sere|seras|llegare|llegaras|llegara)\b`,
	`\btomorrow\b`,
	`\bnext (week|month|year|time|weekend|`+enDayNames[1:len(enDayNames)-1]+`)\b`,
	`\bgoing to\b`,
	`\bplans? (to|for)\b`,
	`\bwill you\b`,
)

var retrievalPatterns = compile(
	`¿\s*`+whWords+` te `+commVerbs+`\b`,
	`¿\s*(cual|cuales|que) (era|es|fue|eran|son)\b[^?]*\bte `+commVerbs+`\b`,
	`\bde que `+pastTalk+`\b`,
	`\bque me (dijiste|contaste|mencionaste|comentaste) (de|sobre|acerca)\b`,
	`\bwhat did i (tell|say to|mention to) you\b`,
	`\bwhat did (we|you and i) (talk|chat|speak) about\b`,
	`\bwhat was the\b[^?]*\bi (told|mentioned|said)\b`,
)

var recallPatterns = compile(
	`\b(te )?(recuerdas|acuerdas|recordas)\b`,
	`¿\s*sabes lo que (me |te )?(paso|hice|dije|conte|ocurrio|sucedio)\b`,
	`\bdo you (still )?(remember|recall)\b`,
	`(^|[.!?]\s*)remember (when|what|that)\b`,
)

var verificationPatterns = compile(
	`(^|[.!?]\s*)¿?\s*(ya )?(te|le|os) `+commVerbs+`\b`,
	`(^|[.!?]\s*)(did|have) i (ever )?(tell|told|mention|mentioned) you\b`,
)

var personalInfoPatterns = compile(
	`¿\s*`+whWords+` (es|era|son|eran|fue) (mi|mis)\b`,
	`\bcomo se (llama|llamaba|llaman) (mi|mis)\b`,
	`\bcual es (mi|mis)\b`,
	`\b(what|when|where) (is|was|are) my\b`,
	`\bwhat'?s my\b`,
	`\bwhere do i (live|work)\b`,
)

var pastReferencePatterns = compile(
	`\bla ultima vez\b`,
	`\b(dijiste|contaste|mencionaste|comentaste|explicaste) que\b`,
	`\b`+pastTalk+` (de|sobre|acerca)\b`,
	`\bcuando te `+commVerbs+`\b`,
	`\bcomo te (dije|conte|comente)\b`,
	`\b(la otra vez|el otro dia|aquella vez)\b`,
	`\byou (said|told me|mentioned)\b`,
	`\bwe (talked|spoke|chatted) about\b`,
	`\blast time\b`,
	`\bas i (said|mentioned|told you)\b`,
)

var recentPatterns = compile(
	`\bhace (poco|nada|un rato|un momento|unos minutos|unas horas)\b`,
	`\b(recientemente|ultimamente)\b`,
	`\besta (manana|tarde|noche|semana)\b`,
	`\b(recently|lately|earlier today|just now|a moment ago)\b`,
)

var specificPatterns = compile(
	`\b(ayer|anoche|anteayer)\b`,
	`\bel `+dayNames+`\b`,
	`\ben `+monthNames+`\b`,
	`\b(el mes pasado|el ano pasado|la semana pasada|el fin de semana)\b`,
	`\bhace \d+ (dias|semanas|meses|anos)\b`,
	`\b(yesterday|last night)\b`,
	`\blast (week|month|year|weekend|`+enDayNames[1:len(enDayNames)-1]+`)\b`,
	`\bon `+enDayNames+`\b`,
)

var pastPatterns = compile(
	`\b(antes|anteriormente|en el pasado|hace tiempo|hace mucho|alguna vez|una vez|la ultima vez)\b`,
	`\b(before|last time|a while ago|long ago|in the past)\b`,
)

// memoryKeywords are folded words that signal talk about the past. Words
// mapped to true carry memory on their own; the others only mark time and
// count toward density.
var memoryKeywords = func() map[string]bool {
	strong := strings.Fields(`
		recuerdas recuerda recuerdo recordar recordas acuerdas acuerdo acordarte olvide olvidaste
		dije dijiste conte contaste mencione mencionaste comente comentaste hablamos
		conversamos platicamos memoria
		remember recall forgot told said mentioned talked memory`)
	weak := strings.Fields(`ultima vez antes ayer anoche pasado pasada last before yesterday ago`)

	set := make(map[string]bool, len(strong)+len(weak))
	for _, w := range weak {
		set[w] = false
	}
	for _, w := range strong {
		set[w] = true
	}
	return set
}()

func firstMatch(patterns []*regexp.Regexp, s string) []int {
	for _, p := range patterns {
		if loc := p.FindStringIndex(s); loc != nil {
			return loc
		}
	}
	return nil
}
