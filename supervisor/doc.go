// Package supervisor owns a set of agent sessions and the process each one
// runs.
//
// Every SendMessage starts one non-interactive agent process in the
// session's working directory, writes the message to its stdin and closes
// it. The process's stdout is decoded line by line (stream.Decoder) and
// interpreted (conversation.Accumulator). The resulting messages, stats and
// state changes are applied to the session and published to a notify.Sink.
// A session runs at most one process: sending while a process runs stops it
// first and waits a short restart delay.
//
// # Superseded processes
//
// Each process is tracked as a run. Output, exit and error handlers check,
// under the supervisor lock, that their run is still the session's current,
// attached run before touching any state. StopSession detaches the run under
// that same lock before signalling the process group, so nothing a stopped
// process writes afterwards reaches the session, even if it is buffered
// already.
//
// # Permissions
//
// The supervisor is the permission.RuleStore for its sessions and owns a
// permission.Broker with a PendingDecider. In filesystem mode each session
// gets its own fsbox drop-box directory under the configured root; in HTTP
// mode an httphook.Hook is attached with AttachTransport and resolves
// requests through SessionForResumeID.
//
//	sup := supervisor.New(
//	    supervisor.WithBinary("claude"),
//	    supervisor.WithNotifier(bus),
//	    supervisor.WithDropBox(root, 60*time.Second),
//	)
//	defer sup.Cleanup()
//
//	s := sup.CreateSession(supervisor.SessionConfig{WorkDir: "/src/app"})
//	err := sup.SendMessage(ctx, s.ID, "run the tests", supervisor.SendOptions{})
package supervisor
