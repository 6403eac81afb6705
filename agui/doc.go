// Package agui defines the AG-UI protocol input types accepted by the bridge
// and the conversion of protocol messages into runtime content.
//
// RunAgentInput is the transport-agnostic request body: a thread id, a run id,
// the full ordered message history, frontend tool declarations, and an opaque
// state object. Conversion helpers map those messages onto genai content so
// the runtime can consume them directly.
package agui
