package retrieval

import "strings"

// rephraseTemplates are applied in declared order until the variant budget is
// spent. %s receives the query with trailing question marks stripped.
var rephraseTemplates = []string{
	"What is %s?",
	"Explain %s",
	"Detailed overview of %s",
	"How does %s work?",
	"Key facts about %s",
}

// interrogativePrefixes mark a query that already reads as a question.
var interrogativePrefixes = []string{
	"what", "how", "why", "when", "where", "who", "which", "is ", "are ", "does ", "can ",
}

// Expand derives up to maxVariants distinct query phrasings. The trimmed
// original query is always the first element. This is a cheap heuristic
// rewriter: fixed templates plus a declarative form for question-shaped
// queries, deduplicated by exact string equality.
func Expand(query string, maxVariants int) []string {
	seed := strings.TrimSpace(query)
	if seed == "" {
		return nil
	}
	if maxVariants < 1 {
		maxVariants = 1
	}

	variants := []string{seed}
	seen := map[string]struct{}{seed: {}}

	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || len(variants) >= maxVariants {
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		variants = append(variants, v)
	}

	subject := strings.TrimRight(seed, "?")
	subject = strings.TrimSpace(subject)
	for _, tmpl := range rephraseTemplates {
		add(strings.Replace(tmpl, "%s", subject, 1))
	}

	if isQuestion(seed) {
		add(declarativeForm(seed))
	}

	return variants
}

// isQuestion reports whether the query starts with an interrogative phrase or
// ends with a question mark.
func isQuestion(q string) bool {
	if strings.HasSuffix(q, "?") {
		return true
	}
	lower := strings.ToLower(q)
	for _, p := range interrogativePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// declarativeForm strips the leading interrogative word and trailing question
// marks, turning "What is DeFi?" into "is DeFi" stripped further to "DeFi".
func declarativeForm(q string) string {
	s := strings.TrimSpace(strings.TrimRight(q, "?"))
	lower := strings.ToLower(s)
	for _, lead := range []string{"what is ", "what are ", "how does ", "how do ", "why is ", "why are ", "what ", "how ", "why "} {
		if strings.HasPrefix(lower, lead) {
			s = strings.TrimSpace(s[len(lead):])
			break
		}
	}
	return strings.TrimSuffix(strings.TrimSpace(s), " work")
}
