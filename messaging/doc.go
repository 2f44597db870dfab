// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the subset of the Matrix client-server API
// the notification bridge uses: user directory search, room creation,
// joined-room and room-state inspection, and message send.
//
// The package provides two core types. [Client] is an unauthenticated
// Matrix client holding the homeserver URL, the configured API version,
// and the HTTP transport. [Session] wraps a Client with an access token
// for authenticated operations. Sessions are lightweight; the pipeline
// creates a fresh Session whenever the externally managed access token
// changes. The token lives in mmap-backed secret.Buffer memory; callers
// must Close the Session to release it.
//
// Two fallback ladders accommodate the homeservers this bridge is
// deployed against:
//
//   - Authentication: every authenticated request is first sent with a
//     Bearer Authorization header. If the server answers 401, the same
//     request is retried once with the token in the access_token query
//     parameter. Message sends are PUT with a transaction ID in the
//     path, and both attempts of one logical send share that ID, so the
//     fallback never double-delivers. If both attempts are rejected the
//     call fails with [*AuthRetryExhaustedError].
//
//   - API version: directory search tries the configured version first,
//     then "v3", then "r0", stopping at the first success. If every
//     version fails the search reports zero results rather than an
//     error — an unreachable directory means "nobody found", not a
//     broken batch.
//
// All other API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_UNKNOWN_TOKEN, ...) and HTTP status
// code. [IsMatrixError] tests for a specific code. Request URLs are
// built by string concatenation rather than url.URL to avoid
// double-encoding of escaped path segments.
package messaging
