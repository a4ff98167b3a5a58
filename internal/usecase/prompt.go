package usecase

import (
	"strings"
)

const (
	// analysisPlaceholder is recorded as the human side of a turn when the
	// caller asked for a plain analysis.
	analysisPlaceholder = "Analyze this image"
	historyHeading      = "Previous conversation history:"

	questionMaxTokens   = 75
	questionTemperature = 0.2
	analysisMaxTokens   = 100
	analysisTemperature = 0.7
)

type promptPlan struct {
	text        string
	maxTokens   int
	temperature float32
}

// buildPrompt combines the base instruction with rendered memory context.
// An empty context adds nothing, not even the heading.
func buildPrompt(question, history string) promptPlan {
	var plan promptPlan
	var parts []string
	if question != "" {
		parts = append(parts,
			"Question about this image: "+question,
			"Use both the image and the conversation history below to answer the question. "+
				"If information was provided in earlier messages, use that information in your answer.",
		)
		plan.maxTokens = questionMaxTokens
		plan.temperature = questionTemperature
	} else {
		parts = append(parts, "Describe what you see in this image in a concise, professional manner.")
		plan.maxTokens = analysisMaxTokens
		plan.temperature = analysisTemperature
	}

	if h := strings.TrimSpace(history); h != "" {
		parts = append(parts, historyHeading+"\n"+h)
	}
	if question != "" {
		parts = append(parts, "Please respond concisely but completely.")
	}

	plan.text = strings.Join(parts, "\n\n")
	return plan
}

func humanMessage(question string) string {
	if question == "" {
		return analysisPlaceholder
	}
	return question
}

func normalizeQuestion(s string) string {
	return strings.TrimSpace(s)
}
