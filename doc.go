// Package adkbridge bridges the AG-UI protocol with ADK-style agent runtimes.
//
// The bridge accepts AG-UI run requests, maintains per-thread runtime
// sessions, feeds new messages and tool results into the runtime, and
// re-emits the runtime's event stream as normalized AG-UI events over a
// channel suitable for SSE transports.
//
// # Packages
//
//   - [github.com/spetersoncode/adkbridge/bridge]: the orchestrator. Create a
//     [bridge.Bridge] from an agent definition and call Run per request.
//   - [github.com/spetersoncode/adkbridge/adk]: the runtime contract the
//     bridge consumes (Runner, SessionService, Tool) plus in-memory
//     implementations.
//   - [github.com/spetersoncode/adkbridge/agui]: AG-UI request types and
//     message conversion.
//   - [github.com/spetersoncode/adkbridge/translate]: runtime-event to AG-UI
//     event translation.
//   - [github.com/spetersoncode/adkbridge/session]: session lifecycle,
//     cleanup, and replay tracking.
//
// # Basic Usage
//
//	ag := &adk.Agent{
//	    Name:        "assistant",
//	    Instruction: adk.StaticInstruction("You are a helpful assistant."),
//	}
//	b, err := bridge.New(ag, runnerFactory,
//	    bridge.WithAppName("my_app"),
//	    bridge.WithUserID("demo_user"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for ev := range b.Run(ctx, input) {
//	    // serialize ev to the client (e.g. SSE)
//	}
//
// # Human-in-the-Loop Tools
//
// Tools declared by the client in the run input are proxied to the runtime as
// long-running tools. When the runtime invokes one, the bridge emits the tool
// call to the client and finishes the run; the tool call id is tracked in
// session state until the client submits a result, which resumes the
// conversation.
//
// # Predictive State
//
// [PredictStateMapping] lets clients render state changes live from streaming
// tool arguments. Matching tool calls emit a PredictState custom event before
// the tool call, and optionally a deferred confirm_changes tool call right
// before the run finishes.
package adkbridge
