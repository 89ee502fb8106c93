package factory

import (
	"fmt"

	"ai-chatapp-be/pkg/llm"
	"ai-chatapp-be/pkg/llm/groq"
	"ai-chatapp-be/pkg/llm/huggingface"
	"ai-chatapp-be/pkg/llm/ollama"
)

func NewLLMProvider(providerType, modelName, apiKey, baseURL, ollamaBaseURL string) (llm.LLMProvider, error) {
	switch providerType {
	case "groq":
		if apiKey == "" {
			return nil, fmt.Errorf("groq provider requires an API key")
		}
		return groq.NewGroqProvider(apiKey, baseURL, modelName), nil
	case "huggingface":
		return huggingface.NewHuggingFaceProvider(apiKey, baseURL, modelName), nil
	case "ollama":
		if ollamaBaseURL == "" {
			ollamaBaseURL = "http://localhost:11434" // Default
		}
		return ollama.NewOllamaProvider(ollamaBaseURL, modelName), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", providerType)
	}
}
