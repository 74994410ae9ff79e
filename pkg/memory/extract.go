package memory

import "strings"

// FactKind classifies an extracted memory item.
type FactKind string

const (
	FactData        FactKind = "fact"
	FactDecision    FactKind = "decision"
	FactRequirement FactKind = "requirement"
	FactInsight     FactKind = "insight"
)

// Fact is a structured item extracted from an agent's output, persisted
// as its own long-term record for fine-grained retrieval.
type Fact struct {
	Kind       FactKind
	Content    string
	AgentID    string
	Role       string
	Confidence float64
}

const (
	maxFacts       = 10
	minFactLen     = 10
	maxFactLen     = 500
	extractionConf = 0.7
)

// ExtractFacts pulls bullet points and numbered items out of an agent's
// output. Headers, short fragments, and overlong lines are skipped; at
// most maxFacts items are returned.
func ExtractFacts(output, agentID, role string) []Fact {
	if strings.TrimSpace(output) == "" {
		return nil
	}

	var facts []Fact
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		content := ""
		switch {
		case strings.HasPrefix(line, "-"), strings.HasPrefix(line, "*"),
			strings.HasPrefix(line, "•"), strings.HasPrefix(line, ">"):
			content = strings.TrimSpace(strings.TrimLeft(line, "-*•> "))
		case isNumberedItem(line):
			_, rest, _ := strings.Cut(line, ".")
			content = strings.TrimSpace(rest)
		}

		if len(content) <= minFactLen || len(content) >= maxFactLen {
			continue
		}
		facts = append(facts, Fact{
			Kind:       guessKind(content),
			Content:    content,
			AgentID:    agentID,
			Role:       role,
			Confidence: extractionConf,
		})
		if len(facts) == maxFacts {
			break
		}
	}
	return facts
}

func isNumberedItem(line string) bool {
	if line == "" || line[0] < '0' || line[0] > '9' {
		return false
	}
	head := line
	if len(head) > 3 {
		head = head[:3]
	}
	return strings.Contains(head, ".")
}

var (
	decisionKeywords    = []string{"recommend", "should", "suggest", "price", "choose", "decision", "strategy"}
	requirementKeywords = []string{"must", "need", "require", "essential", "critical", "should have"}
	insightKeywords     = []string{"trend", "predict", "expect", "analysis", "conclude", "indicates"}
)

func guessKind(content string) FactKind {
	lower := strings.ToLower(content)
	contains := func(keywords []string) bool {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
		return false
	}
	switch {
	case contains(decisionKeywords):
		return FactDecision
	case contains(requirementKeywords):
		return FactRequirement
	case contains(insightKeywords):
		return FactInsight
	default:
		return FactData
	}
}
