package openai

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-translator/pkg/translator"
)

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient("", "", nil)
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestNewPooledHTTPClient_SizesTransportToLimit(t *testing.T) {
	client := NewPooledHTTPClient(100)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 100, transport.MaxIdleConns)
	assert.Equal(t, 100, transport.MaxIdleConnsPerHost)
}

func TestNewPooledHTTPClient_KeepsDefaultsWhenUnbounded(t *testing.T) {
	client := NewPooledHTTPClient(0)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, http.DefaultMaxIdleConnsPerHost, transport.MaxIdleConnsPerHost)
}

func TestNewClient_UsesPooledHTTPClient(t *testing.T) {
	pooled := NewPooledHTTPClient(8)
	prompts := translator.NewPromptBuilder(nil, 0)

	client, err := NewClient("test-key", "", prompts, WithHTTPClient(pooled))
	require.NoError(t, err)
	assert.Same(t, pooled, client.httpClient)

	// 解放してもpanicしない
	client.CloseIdleConnections()
}
