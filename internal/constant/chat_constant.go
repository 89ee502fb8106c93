package constant

const (
	// DefaultSessionTitle is used until the AI-generated title replaces it.
	DefaultSessionTitle = "New Chat"

	// FallbackReply is returned when the inference provider yields an empty
	// completion.
	FallbackReply = "Sorry, I could not generate a response."

	// ChatTemperature and ChatMaxTokens are fixed for every primary turn.
	ChatTemperature = 0.7
	ChatMaxTokens   = 2048

	// TitleSystemPrompt drives the one-shot session retitle after the second
	// user message.
	TitleSystemPrompt = "You are a title generator. Generate a very short, concise title (maximum 4-5 words) that summarizes the following conversation. Only respond with the title, nothing else."
	TitleMaxTokens    = 20

	// FallbackTitleWords caps the deterministic truncation fallback.
	FallbackTitleWords = 5
)
