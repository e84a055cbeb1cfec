package narrative

import (
	"fmt"
	"strings"
)

const genreList = "dark_fantasy, space_opera, mystery, post_apoc, pirate, fantasy, scifi, horror, adventure, romance"

func describeRoster(roster []Member) string {
	parts := make([]string, 0, len(roster))
	for _, m := range roster {
		parts = append(parts, fmt.Sprintf("%s (%s)", m.Name, m.Archetype))
	}
	return strings.Join(parts, ", ")
}

func genrePrompt(roster []Member) string {
	var b strings.Builder
	b.WriteString("You are an expert storyteller and game master. Analyze these characters and suggest the most fitting genre for their story:\n\n")
	fmt.Fprintf(&b, "Characters: %s\n\n", describeRoster(roster))
	fmt.Fprintf(&b, "Available genres: %s\n\n", genreList)
	b.WriteString("Consider:\n- Character archetypes and how they work together\n- Narrative potential and conflict opportunities\n- Genre tropes that would enhance the story\n- Player engagement and excitement\n\n")
	b.WriteString("Respond with a JSON object containing:\n- genre: the suggested genre (use the exact genre name from the list)\n- confidence: a number from 0-1 indicating how confident you are\n- reasoning: a brief explanation of why this genre fits best")
	return b.String()
}

func openingPrompt(req OpeningRequest) string {
	turn := req.TurnIndex
	if turn <= 0 {
		turn = 1
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are a master storyteller creating an engaging %s story. Generate an opening scene and story hooks based on these characters:\n\n", req.Genre)
	fmt.Fprintf(&b, "Campaign: %s\nGenre: %s\nCharacters: %s\nTurn: %d\n\n", req.Title, req.Genre, describeRoster(req.Roster), turn)
	fmt.Fprintf(&b, "Create:\n1. An engaging opening scene (2-3 paragraphs) that introduces the characters and sets the tone for a %s adventure\n", req.Genre)
	b.WriteString("2. Three compelling story hooks that give players meaningful choices to drive the narrative forward\n\n")
	fmt.Fprintf(&b, "The story should:\n- Be appropriate for the %s genre\n- Incorporate all the characters naturally\n- Create immediate tension or intrigue\n- Offer meaningful player agency through the hooks\n- Be engaging and immersive\n\n", req.Genre)
	b.WriteString(sceneFormat("the opening scene text", "array of 3 story hook options"))
	return b.String()
}

func continuationPrompt(req ContinuationRequest) string {
	history := make([]string, 0, len(req.History))
	for _, t := range req.History {
		history = append(history, fmt.Sprintf("Turn %d: %s", t.Index, t.Summary))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are a master storyteller continuing a %s story. Generate the next scene based on the previous events and the players' choice.\n\n", req.Genre)
	fmt.Fprintf(&b, "Campaign: %s\nGenre: %s\nCharacters: %s\nTurn: %d\n\n", req.Title, req.Genre, describeRoster(req.Roster), req.TurnIndex)
	fmt.Fprintf(&b, "Previous Events:\n%s\n\n", strings.Join(history, "\n"))
	fmt.Fprintf(&b, "Players chose: %s\n\n", req.SelectedHook)
	b.WriteString("Create:\n1. A compelling scene that follows from the players' choice (2-3 paragraphs)\n")
	b.WriteString("2. Three new story hooks that build on the current situation and offer meaningful choices\n\n")
	fmt.Fprintf(&b, "The story should:\n- Naturally follow from the previous choice\n- Maintain the %s tone and atmosphere\n- Incorporate all characters appropriately\n- Create new challenges or opportunities\n- Keep the narrative engaging and dynamic\n\n", req.Genre)
	b.WriteString(sceneFormat("the scene text", "array of 3 new story hook options"))
	return b.String()
}

func sceneFormat(content, hooks string) string {
	return fmt.Sprintf("Respond with a JSON object containing:\n- content: %s\n- hooks: %s\n- memory_summary: a brief summary for the AI's memory of this scene", content, hooks)
}

// extractJSON trims markdown fences some models wrap around JSON replies.
func extractJSON(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "}"); j >= 0 && j < len(s)-1 {
		s = s[:j+1]
	}
	return strings.TrimSpace(s)
}
