// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package varlink

import (
	"os"

	logging "github.com/op/go-logging"
)

var backendOnce = newStderrBackend()

// DefaultLogger is the *logging.Logger used by a Server or Transport
// that doesn't set its own, logging to stderr with a conventional
// level/module-prefixed format.
var DefaultLogger = logging.MustGetLogger("varlink")

func newStderrBackend() *logging.LogBackend {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.MustStringFormatter(
		`%{time:15:04:05.000} %{level:.4s} %{module}: %{message}`,
	)
	formatted := logging.NewBackendFormatter(backend, formatter)
	logging.SetBackend(formatted)
	return backend
}
