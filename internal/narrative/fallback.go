package narrative

import "fmt"

var openingHooks = []string{
	"Investigate the mysterious light in the distance",
	"Seek shelter and plan your next move",
	"Call out to see if anyone else is nearby",
}

var continuationHooks = []string{
	"Take a bold action to advance the plot",
	"Gather more information before proceeding",
	"Work together to overcome the current challenge",
}

// FallbackOpening is the fixed opening scene used when generation fails.
func FallbackOpening(title, genre string) Scene {
	return Scene{
		Content: fmt.Sprintf("Welcome to your %s adventure: %s!\n\n"+
			"You find yourself at the beginning of an epic journey. The world around you is filled with possibilities and danger lurks in every shadow. Your choices will shape the destiny of this tale.\n\n"+
			"What will you do next?", genre, title),
		Hooks:         append([]string(nil), openingHooks...),
		MemorySummary: fmt.Sprintf("Opening scene of %s - players begin their %s adventure", title, genre),
	}
}

// FallbackContinuation is the fixed follow-up scene used when generation fails.
func FallbackContinuation(title, genre string, turnIndex int) Scene {
	return Scene{
		Content: fmt.Sprintf("The story continues in your %s adventure. "+
			"The consequences of your previous choice unfold before you, presenting new challenges and opportunities.\n\n"+
			"What will you do next?", genre),
		Hooks:         append([]string(nil), continuationHooks...),
		MemorySummary: fmt.Sprintf("Turn %d continuation of %s", turnIndex, title),
	}
}

const fallbackGenre = "adventure"

// FallbackGenre returns the default suggestion. unavailable distinguishes an
// unconfigured generator from one that failed.
func FallbackGenre(unavailable bool) GenreSuggestion {
	if unavailable {
		return GenreSuggestion{
			Genre:      fallbackGenre,
			Confidence: 0.3,
			Reasoning:  "AI service not configured - using default adventure genre",
		}
	}
	return GenreSuggestion{
		Genre:      fallbackGenre,
		Confidence: 0.5,
		Reasoning:  "Fallback genre due to AI service error",
	}
}
