// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the relay between command-issuing clients and
// the execution agent: it authorizes each command against the
// permission policy, collects confirmation for destructive scopes,
// injects vault credentials into the one dispatch that needs them,
// and maps every outcome — success, denial, or fault — to a response
// envelope correlated by request ID.
//
// The package also owns the session tracker (the single writer of the
// process-wide agent connection state) and the HTTP surface: a
// client-facing listener for command submission and status, and a
// separate bearer-token admin socket for credential management.
package gateway
