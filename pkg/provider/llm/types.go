package llm

// Roles of a [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the call transcript as the model sees it: caller
// speech is RoleUser, the agent's spoken replies are RoleAssistant.
type Message struct {
	Role    string
	Content string
}

// ModelCapabilities are the static limits of a model.
type ModelCapabilities struct {
	ContextWindow     int
	MaxOutputTokens   int
	SupportsStreaming bool
}
