/*
Package types provides the core interfaces and data structures shared by all
sharefs components.

# Architecture Overview

sharefs presents remote shares as random-access files. Every layer talks to
the next one through the contracts in this package:

	┌─────────────────────────────────────────────┐
	│              FUSE Interface                 │
	│        (cmd/sharefs, internal/fuse)         │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│      Adapter service / proxy files          │
	│  (internal/adapter, internal/filesystem)    │
	└─────────────────────────────────────────────┘
	          │            │             │
	┌─────────┴───┐ ┌──────┴─────┐ ┌─────┴──────┐
	│  Pipelines  │ │ Resource   │ │ Admission  │
	│ (buffer)    │ │ caches     │ │ gate       │
	└─────────────┘ └────────────┘ └────────────┘
	          │
	┌─────────┴───────────────────────────────────┐
	│   Connectors (internal/storage/s3, natsobj) │
	└─────────────────────────────────────────────┘

# Core Interfaces

SequentialAccessor:
The minimal read-at/write-at capability of one open remote stream. Pipelines
are written once against it; protocol clients only supply the primitive.

Connector:
Adapts a protocol client library. It produces sessions, shares and file
handles (all io.Closer, owned by the resource caches) and opens accessors.

MetricsCollector:
Observability hooks used by the service and pipelines; backed by Prometheus
in internal/metrics.

# Identities

ConnectionIdentity is comparable and keys the session cache. ShareKey and
HandleKey extend it for the share and handle caches and for admission keys.

# Thread Safety

Connectors must be safe for concurrent use. A SequentialAccessor is used by at
most one pipeline at a time but may be called from that pipeline's background
goroutines.
*/
package types
