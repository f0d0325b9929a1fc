package session

// Suggestion is a starter prompt offered before the user has typed anything.
type Suggestion struct {
	ID   string `json:"id" yaml:"id"`
	Icon string `json:"icon" yaml:"icon"`
	Text string `json:"text" yaml:"text"`
}

var defaultSuggestions = []Suggestion{
	{ID: "1", Icon: "📧", Text: "Compose an email"},
	{ID: "2", Icon: "🗺️", Text: "Plan a trip"},
	{ID: "3", Icon: "📝", Text: "Prepare a presentation"},
	{ID: "4", Icon: "📅", Text: "Schedule a meeting"},
	{ID: "5", Icon: "🖥️", Text: "Design a website"},
	{ID: "6", Icon: "📊", Text: "Create a report"},
	{ID: "7", Icon: "🔍", Text: "Research a topic"},
	{ID: "8", Icon: "📚", Text: "Update the documentation"},
}

// DefaultSuggestions returns a copy of the built-in starter prompts.
func DefaultSuggestions() []Suggestion {
	return append([]Suggestion(nil), defaultSuggestions...)
}
