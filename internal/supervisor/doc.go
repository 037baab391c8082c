// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

/*
Package supervisor provides process supervision for AMAS using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of all long-running services. It provides Erlang/OTP-style
supervision with automatic restart, failure isolation, and graceful
shutdown.

# Overview

The tree organizes services into four layers for failure isolation:

	RootSupervisor ("amas")
	├── DataSupervisor ("data-layer")
	│   └── PersistenceWriter (decision records + snapshots)
	├── EngineSupervisor ("engine-layer")
	│   ├── WorkerPool
	│   ├── DecisionEngine
	│   ├── StatsTracker
	│   └── GPOptimizer
	├── MessagingSupervisor ("messaging-layer")
	│   ├── WebSocketHub
	│   ├── EmbeddedNATSServer (if NATS_ENABLED, build tag: nats)
	│   ├── EventConsumer (build tag: nats)
	│   └── DecisionBridge (build tag: nats)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

This hierarchy ensures that:
  - A crash in the event bus doesn't take down the decision pipeline
  - A persistence stall doesn't stop the API from answering reads
  - Each layer restarts independently with its own failure counter

The data layer is added to the root first. suture stops children in
reverse order of addition, so the writer outlives the engine during
shutdown and can drain the record queue.

# Failure Handling

The supervisor uses a failure counter with exponential decay: each crash
increments the counter, the counter decays over FailureDecay seconds,
and when it exceeds FailureThreshold the supervisor delays restarts by
FailureBackoff. Defaults match suture's production values (5 failures,
30s decay, 15s backoff, 10s shutdown timeout).

# Service Interface

All services implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Return behavior:
  - Return nil: service stopped cleanly, will not be restarted
  - Return error: service crashed, will be restarted
  - Context canceled: shutdown requested, return promptly

# What Is NOT Supervised

DuckDB is intentionally not supervised: it is an embedded library, its
connections are managed by the database package, and a crash inside it
would require a process restart anyway. The same holds for the Badger
snapshot store.

# Debugging Shutdown Issues

If services don't stop within the timeout:

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    log.Printf("Service didn't stop: %v", svc)
	}

# See Also

  - internal/supervisor/services: service wrappers
  - github.com/thejerf/suture/v4: underlying library
*/
package supervisor
