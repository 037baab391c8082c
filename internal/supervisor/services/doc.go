// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

/*
Package services provides suture.Service wrappers for AMAS components.

Most AMAS services (the engine, the persistence writer, the worker pool,
the stats tracker, the GP optimizer, the WebSocket hub, the NATS
components) implement suture.Service natively and register with the
supervisor tree directly. This package holds the wrappers for components
with a foreign lifecycle.

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Converts the blocking ListenAndServe pattern to Serve
  - Configurable shutdown timeout for draining connections

Return values determine supervisor behavior:

	nil        -> service stopped cleanly, will not restart
	error      -> service crashed, supervisor will restart
	ctx.Err()  -> shutdown requested, normal termination
*/
package services
