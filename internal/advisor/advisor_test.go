package advisor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/privacy"
	"github.com/coral-mesh/vmlens/internal/testutil"
)

type fakeBackend struct {
	system   string
	messages []Message
	reply    string
	err      error
}

func (f *fakeBackend) complete(_ context.Context, system string, messages []Message) (string, error) {
	f.system = system
	f.messages = messages
	return f.reply, f.err
}

func testSummary() privacy.Summary {
	return privacy.Summary{
		Level: privacy.LevelMaximum,
		CPU: &privacy.CPUSummary{
			SampleCount:  10,
			AppFunctions: []privacy.FunctionEntry{{Name: "CartPage.build", Percentage: 55}},
		},
	}
}

func TestClient_Analyze(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	backend := &fakeBackend{reply: "  Cache the cart totals.\n"}
	c := newClient(KindOpenAI, "gpt-4o-mini", backend, testutil.NewTestLogger(t))

	out, err := c.Analyze(ctx, testSummary())
	require.NoError(t, err)
	assert.Equal(t, "Cache the cart totals.", out)
	assert.Equal(t, systemPrompt, backend.system)
	require.Len(t, backend.messages, 1)
	assert.Contains(t, backend.messages[0].Content, `"CartPage.build"`)
	assert.Contains(t, backend.messages[0].Content, `"privacy_level": "maximum"`)
}

func TestClient_Chat(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	backend := &fakeBackend{reply: "yes"}
	c := newClient(KindAnthropic, "m", backend, testutil.NewTestLogger(t))

	history := []Message{
		{Role: "user", Content: "what is slow?"},
		{Role: "assistant", Content: "the cart page"},
	}
	out, err := c.Chat(ctx, testSummary(), history, "should I memoize it?")
	require.NoError(t, err)
	assert.Equal(t, "yes", out)
	require.Len(t, backend.messages, 4)
	assert.Equal(t, "assistant", backend.messages[2].Role)
	assert.Equal(t, "should I memoize it?", backend.messages[3].Content)

	_, err = c.Chat(ctx, testSummary(), nil, "   ")
	assert.True(t, perrors.Is(err, perrors.KindMalformed))
}

func TestClient_AnalyzeEntity(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	backend := &fakeBackend{reply: "retained by a static cache"}
	c := newClient(KindGoogle, "m", backend, testutil.NewTestLogger(t))

	class := privacy.ClassEntry{Name: "OrderItem", Instances: 300, RetentionRoot: "Static Field"}
	out, err := c.AnalyzeEntity(ctx, Entity{Class: &class})
	require.NoError(t, err)
	assert.Equal(t, "retained by a static cache", out)
	assert.Contains(t, backend.messages[0].Content, "retained")
	assert.Contains(t, backend.messages[0].Content, `"OrderItem"`)

	_, err = c.AnalyzeEntity(ctx, Entity{})
	assert.True(t, perrors.Is(err, perrors.KindMalformed))
}

func TestClient_BackendError(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	c := newClient(KindOpenAI, "m", &fakeBackend{err: errors.New("429")}, testutil.NewTestLogger(t))

	_, err := c.Analyze(ctx, testSummary())
	assert.ErrorContains(t, err, "openai request failed")
	assert.ErrorContains(t, err, "429")
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Anthropic ")
	require.NoError(t, err)
	assert.Equal(t, KindAnthropic, k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindOpenAI, k)

	_, err = ParseKind("llama")
	assert.True(t, perrors.Is(err, perrors.KindMalformed))
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "default-key")
	t.Setenv("VMLENS_TEST_KEY", "from-env")

	key, err := resolveAPIKey("literal", KindOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "literal", key)

	key, err = resolveAPIKey("env://VMLENS_TEST_KEY", KindOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)

	key, err = resolveAPIKey("", KindOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "default-key", key)

	_, err = resolveAPIKey("env://VMLENS_TEST_MISSING", KindOpenAI)
	assert.True(t, perrors.Is(err, perrors.KindUnavailable))

	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err = resolveAPIKey("", KindAnthropic)
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
}

func TestNew_OpenAIDefaults(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	c, err := New(ctx, Config{Kind: KindOpenAI, APIKey: "k", BaseURL: "http://127.0.0.1:1"}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, KindOpenAI, c.Kind())
	assert.Equal(t, "gpt-4o-mini", c.Model())
	assert.NoError(t, c.Close())
}
