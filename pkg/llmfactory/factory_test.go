package llmfactory_test

import (
	"context"
	"testing"

	"github.com/effective-security/mcpagent/pkg/llmfactory"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llms/anthropic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useFakeLLM(t *testing.T) {
	llmfactory.NewLLM = func(cfg *llmfactory.ProviderConfig, preferredModels ...string) (llms.Model, error) {
		return &fakeLLM{provider: cfg.Name, model: cfg.FindModel(preferredModels...)}, nil
	}
	t.Cleanup(func() {
		llmfactory.NewLLM = llmfactory.CreateLLM
	})
}

func Test_Factory(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "fakekey")
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")

	cfg, err := llmfactory.LoadConfig("testdata/llm.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)

	useFakeLLM(t)

	f := llmfactory.New(cfg)
	model, err := f.DefaultModel()
	require.NoError(t, err)
	fm := model.(*fakeLLM)
	assert.Equal(t, "gpt-4o", fm.model)
	assert.Equal(t, "openai", fm.provider)

	model, err = f.ModelByName("gpt-4o-mini")
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "gpt-4o-mini", fm.model)
	assert.Equal(t, "openai", fm.provider)

	model, err = f.ModelByName("unknown", "claude-3-5-haiku-latest")
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "claude-3-5-haiku-latest", fm.model)
	assert.Equal(t, "anthropic", fm.provider)

	// falls back to the default
	model, err = f.ModelByName("non-existent-model")
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "gpt-4o", fm.model)

	model, err = f.ModelByType("ANTHROPIC")
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "claude-sonnet-4-20250514", fm.model)
	assert.Equal(t, "anthropic", fm.provider)

	model, err = f.ModelByType("openai")
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "openai", fm.provider)

	model, err = f.ModelByProvider("anthropic")
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "claude-sonnet-4-20250514", fm.model)

	_, err = f.ModelByProvider("bedrock")
	assert.EqualError(t, err, "provider not found: bedrock")

	_, err = f.ModelByType("UNSUPPORTED")
	assert.EqualError(t, err, "provider not found for type: UNSUPPORTED")

	_, err = llmfactory.New(&llmfactory.Config{}).DefaultModel()
	assert.EqualError(t, err, "no providers configured")

	invalid := llmfactory.New(&llmfactory.Config{
		DefaultProvider: "non-existent",
		Providers:       cfg.Providers,
	})
	model, err = invalid.DefaultModel()
	require.NoError(t, err)
	assert.Equal(t, "openai", model.(*fakeLLM).provider)
}

func Test_ModelCaching(t *testing.T) {
	useFakeLLM(t)

	f := llmfactory.New(&llmfactory.Config{
		Providers: []*llmfactory.ProviderConfig{
			{
				Name:            "openai",
				OpenAI:          llmfactory.OpenAIConfig{APIType: "OPEN_AI"},
				AvailableModels: []string{"gpt-4o", "gpt-4o-mini"},
				DefaultModel:    "gpt-4o",
			},
		},
	})

	m1, err := f.ModelByType("OPENAI")
	require.NoError(t, err)
	m2, err := f.ModelByType("OPEN_AI")
	require.NoError(t, err)
	assert.Same(t, m1, m2)

	m3, err := f.ModelByName("gpt-4o-mini")
	require.NoError(t, err)
	m4, err := f.ModelByName("gpt-4o-mini")
	require.NoError(t, err)
	assert.Same(t, m3, m4)
}

func Test_Load(t *testing.T) {
	f, err := llmfactory.Load("testdata/llm.yaml")
	require.NoError(t, err)
	require.NotNil(t, f)

	_, err = llmfactory.Load("testdata/non-existent.yaml")
	require.Error(t, err)

	_, err = llmfactory.LoadConfig("testdata/invalid.yaml")
	require.Error(t, err)

	cfg, err := llmfactory.LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers)
}

func Test_CreateLLM(t *testing.T) {
	cfg := &llmfactory.ProviderConfig{
		Name:            "test",
		Token:           "fakekey",
		OpenAI:          llmfactory.OpenAIConfig{APIType: "OPEN_AI", OrgID: "org"},
		AvailableModels: []string{"gpt-4o"},
		DefaultModel:    "gpt-4o",
	}

	model, err := llmfactory.CreateLLM(cfg)
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderOpenAI, model.GetProviderType())
	assert.Equal(t, "gpt-4o", model.GetName())

	cfg.OpenAI.APIType = "ANTHROPIC"
	cfg.OpenAI.Beta = []string{"token-efficient-tools-2025-02-19"}
	cfg.AvailableModels = []string{"claude-sonnet-4-20250514"}
	cfg.DefaultModel = "claude-sonnet-4-20250514"
	model, err = llmfactory.CreateLLM(cfg)
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderAnthropic, model.GetProviderType())
	allm, ok := model.(*anthropic.LLM)
	require.True(t, ok)
	assert.Equal(t, []string{"token-efficient-tools-2025-02-19"}, allm.Options.Beta)

	cfg.OpenAI.APIType = "BEDROCK"
	_, err = llmfactory.CreateLLM(cfg)
	assert.EqualError(t, err, "unsupported provider type: BEDROCK")
}

func Test_FindModel(t *testing.T) {
	cfg := &llmfactory.ProviderConfig{
		AvailableModels: []string{"a", "b"},
		DefaultModel:    "a",
	}
	assert.Equal(t, "b", cfg.FindModel("x", "b"))
	assert.Equal(t, "a", cfg.FindModel("x"))
	assert.Equal(t, "a", cfg.FindModel())
}

type fakeLLM struct {
	provider string
	model    string
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{}, nil
}

func (f *fakeLLM) GetName() string {
	return f.model
}

func (f *fakeLLM) GetProviderType() llms.ProviderType {
	return llms.ProviderType(f.provider)
}
