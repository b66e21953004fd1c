package llm

import "strings"

// defaultCapabilities applies to models missing from the family table.
var defaultCapabilities = ModelCapabilities{
	ContextWindow:     128_000,
	MaxOutputTokens:   4_096,
	SupportsStreaming: true,
}

// families maps model name prefixes to their limits. The first match wins,
// so longer prefixes precede the shorter ones they extend.
var families = []struct {
	prefix string
	caps   ModelCapabilities
}{
	{"gpt-4.1", ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768}},
	{"gpt-4o", ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{"gpt-4-turbo", ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}},
	{"gpt-4", ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{"gpt-3.5-turbo", ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}},
	{"o3", ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"o4", ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"claude-3-opus", ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 4_096}},
	{"claude", ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}},
	{"gemini-1.5-pro", ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192}},
	{"gemini-1.5-flash", ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}},
	{"gemini-2", ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}},
	{"gemini", ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 8_192}},
	{"llama", ModelCapabilities{ContextWindow: 32_768, MaxOutputTokens: 4_096}},
	{"mistral", ModelCapabilities{ContextWindow: 32_768, MaxOutputTokens: 4_096}},
}

// CapabilitiesFor looks up the limits of a model by family name, ignoring
// case. Every known backend streams.
func CapabilitiesFor(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range families {
		if strings.HasPrefix(lower, f.prefix) {
			caps := f.caps
			caps.SupportsStreaming = true
			return caps
		}
	}
	return defaultCapabilities
}
