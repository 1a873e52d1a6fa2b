// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"net"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)

	// Dialer should be a zero net.Dialer
	assert.Equal(t, &net.Dialer{}, cfg.Dialer)

	// ErrClassifier should be DefaultErrClassifier
	assert.Equal(t, "", cfg.ErrClassifier.Classify(nil))

	// NewConnectionID should return UUIDv7 strings
	parsed, err := uuid.Parse(cfg.NewConnectionID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	// TimeNow should be set and return a valid time
	now := cfg.TimeNow()
	assert.False(t, now.IsZero())

	// Transport should be the default transport
	assert.Same(t, http.DefaultTransport, cfg.Transport)
}
