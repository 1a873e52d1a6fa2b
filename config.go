// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"net"
	"net/http"
	"time"
)

// Config holds common configuration for xhrproxy types.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer establishes the connections used by [DialConnTransport].
	//
	// Set by [NewConfig] to a zero [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// NewConnectionID returns the identifier of a new [*Connection].
	//
	// Set by [NewConfig] to [NewSpanID].
	NewConnectionID func() string

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// Transport performs the round trips of [*HTTPRequest].
	//
	// Set by [NewConfig] to [http.DefaultTransport].
	Transport http.RoundTripper
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:          &net.Dialer{},
		ErrClassifier:   DefaultErrClassifier,
		NewConnectionID: NewSpanID,
		TimeNow:         time.Now,
		Transport:       http.DefaultTransport,
	}
}
