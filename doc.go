// Package agentdeck runs agent CLI sessions for a UI.
//
// The daemon (cmd/agentdeck) keeps a set of sessions, each bound to a
// working directory. Every message starts one non-interactive agent
// process, whose stream-json output is decoded into conversation messages,
// usage stats and state changes and pushed to the UI. Tool approvals the
// process asks for are answered by session rules or by a human, over a
// filesystem drop-box or an HTTP hook.
//
// Packages:
//
//   - claudecontract: CLI flags, event kinds, tool names and drop-box names
//   - stream: NDJSON decoding of the CLI's output
//   - conversation: turns stream events into messages and stats
//   - model: model families and token pricing
//   - permission: rules, the broker, and the fsbox and httphook transports
//   - notify: notifications to the UI
//   - supervisor: sessions and their processes
//   - config: daemon configuration
//   - api: HTTP and websocket surface
//
// # Quick Start
//
//	bus := notify.NewBus(256, slog.Default())
//	sup := supervisor.New(supervisor.WithNotifier(bus))
//	defer sup.Cleanup()
//
//	s := sup.CreateSession(supervisor.SessionConfig{WorkDir: "/src/app"})
//	events, cancel := bus.Subscribe(s.ID)
//	defer cancel()
//	_ = sup.SendMessage(ctx, s.ID, "summarize the README", supervisor.SendOptions{})
//	for n := range events {
//	    fmt.Println(n.Kind, n.Payload)
//	}
package agentdeck
