// Package cluster defines the contract shared by the coordinator and its
// workers: member identity, the message envelope exchanged over the worker
// connection, and the JSON-over-HTTP helpers used for discovery.
//
// # Topology
//
// One coordinator owns all scheduling state. Workers join and leave at any
// time:
//
//	             ┌──────────────────┐
//	             │   Coordinator    │
//	             │ role=coordinator │
//	             │  GET /members    │
//	             │  GET /ws         │
//	             └────────┬─────────┘
//	                      │ websocket, one per worker
//	      ┌───────────────┼───────────────┐
//	┌─────▼───────┐ ┌─────▼───────┐ ┌─────▼───────┐
//	│ Worker 1    │ │ Worker 2    │ │ Worker 3    │
//	│ role=worker │ │ role=worker │ │ role=worker │
//	└─────────────┘ └─────────────┘ └─────────────┘
//
// # Messages
//
// Every message is an Envelope whose Type selects the payload:
//
//	worker → coordinator   MsgRegister        Register
//	coordinator → worker   MsgWelcome         Fragment (bulk welcome blob)
//	coordinator → worker   MsgAssignTask      Task
//	worker → coordinator   MsgHintResult      HintResult
//	worker → coordinator   MsgPasswordResult  PasswordResult
//	coordinator → worker   MsgShutdown        (no payload)
//
// A worker registers exactly once per coordinator it discovers. Messages on
// one connection are delivered in order; messages from different workers
// interleave arbitrarily at the coordinator.
//
// # Discovery
//
// Workers learn about the coordinator by polling its GET /members endpoint
// with GetJSON. The coordinator lists itself with RoleCoordinator and every
// active worker with RoleWorker.
package cluster
