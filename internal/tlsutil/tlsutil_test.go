package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfig(t *testing.T) {
	cfg := ClientConfig("redis.internal")
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, "redis.internal", cfg.ServerName)
	require.NotEmpty(t, cfg.CipherSuites)

	for _, cs := range cfg.CipherSuites {
		suite := tls.CipherSuiteName(cs)
		assert.Regexp(t, `GCM|CHACHA20_POLY1305`, suite, "non-AEAD suite %s", suite)
	}
}

func TestHTTPClient(t *testing.T) {
	client := HTTPClient(15 * time.Second)
	assert.Equal(t, 15*time.Second, client.Timeout)

	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, tr.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.True(t, tr.ForceAttemptHTTP2)
}
