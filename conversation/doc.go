// Package conversation rebuilds display-ready conversation state from the
// decoded event stream of one or more sessions.
//
// An Accumulator is fed stream.Events tagged with the owning session id and
// returns the resulting Updates: new Messages, in-place updates of Messages
// whose content block is still streaming, session metadata (the resumable
// conversation id and model), processing-state changes, and per-run usage
// statistics priced against an injected model.PriceTable.
//
// Streamed blocks are tracked per (session, block index). Every open block is
// discarded by ClearSession, which the owner must call whenever the session's
// process is stopped, restarted or deleted; a later block always starts from
// empty.
//
// Failures interpreting a single event never stop the stream: they become an
// error Message for that session and processing continues.
package conversation
