package llm

import "fmt"

// NewFromConfig builds a ChatModel for the named provider ("anthropic",
// "openai", "google"). Used by the server's wiring code so the provider is a
// runtime configuration choice rather than a compile-time one.
func NewFromConfig(provider, apiKey, modelName string) (ChatModel, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicModel(apiKey, modelName), nil
	case "openai":
		return NewOpenAIModel(apiKey, modelName), nil
	case "google":
		return NewGoogleModel(apiKey, modelName), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
