// Package permission decides whether a supervised agent may run a tool.
//
// A Broker receives Requests from one or more Transports (a filesystem
// drop-box, an embedded HTTP endpoint), answers bookkeeping tools and
// requests covered by a session's durable Rules immediately, and otherwise
// asks a Decider, normally a PendingDecider that parks the request until a
// human resolves it. The Verdict goes back over the Transport the request
// arrived on.
//
// Rule matching is transport-agnostic:
//
//   - Bash matches by command: an exact command first, then a verb pattern
//     such as "npm:*", then any command.
//   - Other tools match by exact target first, then WorkdirPattern for any
//     target under the session's working directory, then AnyPattern.
//
// The first match in that order wins. The Broker never persists rules
// itself; a remembered verdict is handed to the RuleStore.
package permission
