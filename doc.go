// Package caliber is a multi-tenant memory and coordination substrate for
// AI agent systems.
//
// CALIBER persists hierarchical task state (trajectories, scopes, turns),
// extracted artifacts and cross-trajectory notes, a typed hyperedge graph
// linking them, and agent-coordination primitives (locks, messages,
// delegations, handoffs). It exposes these over REST and WebSocket and
// serves as the runtime for a declarative configuration language ("packs")
// that defines adapters, memories, agents, toolsets, provider routing, and
// injection policies.
//
// # Quick Start
//
// Install CALIBER:
//
//	go install github.com/caliberhq/caliber/cmd/caliber@latest
//
// Start the server:
//
//	caliber serve --config caliber.yaml
//
// Validate a pack before activating it:
//
//	caliber validate ./packs/research
//
// # Using as Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/caliberhq/caliber/pkg/entity"
//	    "github.com/caliberhq/caliber/pkg/readthrough"
//	    "github.com/caliberhq/caliber/pkg/pack"
//	)
//
// # Key Packages
//
//   - pkg/entity: typed domain records and their invariants
//   - pkg/eventdag: append-only, positioned, correlated event store
//   - pkg/journal: per-tenant change journal with watermarks
//   - pkg/tenantcache + pkg/readthrough: tenant-isolated cache with
//     explicit freshness contracts
//   - pkg/pack + pkg/dsl: pack manifest/markdown/DSL compilation
//   - pkg/broadcast: tenant-filtered WebSocket event fan-out
//   - pkg/coordination: lock/message/delegation/handoff state machines
//   - pkg/toolgate: validated, authorized, audited tool execution
//
// # License
//
// AGPL-3.0.
package caliber
