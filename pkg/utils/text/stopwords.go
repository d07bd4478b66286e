package text

// stopwords are stored folded (lowercase, no diacritics)
var stopwords = toSet(
	// Spanish function words
	"el", "la", "los", "las", "lo", "un", "una", "unos", "unas", "al", "del",
	"de", "en", "con", "por", "para", "sin", "sobre", "entre", "hasta", "desde", "hacia",
	"que", "quien", "quienes", "cual", "cuales", "cuando", "donde", "como", "cuanto", "cuanta",
	"cuantos", "cuantas", "porque", "pues", "pero", "mas", "sino", "aunque", "tambien", "tampoco",
	"muy", "mucho", "mucha", "muchos", "muchas", "poco", "algo", "nada", "todo", "toda", "todos",
	"todas", "otro", "otra", "otros", "otras", "mismo", "misma", "este", "esta", "estos", "estas",
	"ese", "esa", "esos", "esas", "aquel", "aquella", "esto", "eso", "aqui", "alli", "ahi",
	"yo", "tu", "usted", "nosotros", "vosotros", "ellos", "ellas", "ella", "mi", "mis", "tus",
	"su", "sus", "nuestro", "nuestra", "nos", "les", "le", "me", "te", "se",
	"es", "era", "eres", "soy", "son", "fue", "fui", "ser", "estar", "estoy", "estas", "esta",
	"estaba", "ha", "han", "has", "he", "hay", "habia", "tengo", "tiene", "tienes", "tenia",
	"si", "no", "ya", "y", "o", "u", "ni", "a", "e", "asi", "entonces", "alguna", "alguno",
	"vez", "veces", "acerca", "sabes", "saber", "hace",
	// recall and communication verbs that carry no topic
	"recuerdas", "recuerda", "recuerdo", "recordar", "acuerdas", "acuerdo", "acordar", "recordas",
	"dije", "dijiste", "dijo", "dijimos", "decir", "conte", "contaste", "conto", "contar",
	"mencione", "mencionaste", "menciono", "mencionar", "comente", "comentaste", "comentamos",
	"hable", "hablaste", "hablamos", "hablar", "platicamos", "conversamos", "charlamos",
	"explique", "explicaste", "pregunte", "preguntaste",
	// English function words
	"the", "a", "an", "and", "or", "but", "of", "to", "in", "on", "at", "for", "with", "about",
	"from", "by", "is", "are", "was", "were", "be", "been", "am", "do", "did", "does", "have",
	"has", "had", "you", "your", "yours", "my", "mine", "me", "we", "our", "us", "they", "their",
	"it", "its", "this", "that", "these", "those", "what", "which", "who", "whom", "when",
	"where", "why", "how", "there", "here", "not", "any", "some", "all", "can", "could",
	"would", "should", "will", "just", "also", "again", "ever", "then", "than", "into",
	// English recall verbs
	"remember", "recall", "tell", "told", "said", "say", "mention", "mentioned", "talk",
	"talked", "discuss", "discussed",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// IsStopword reports whether the folded word carries no topical meaning
func IsStopword(folded string) bool {
	_, ok := stopwords[folded]
	return ok
}
