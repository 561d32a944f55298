// Package runtime is the agent execution core. It turns an AgentConfig and a
// user message into an execution plan (model client, permitted tool adapters
// and retrieval-augmented input), drives the bounded reasoning/tool loop and
// reports the outcome either as a Result or as an ordered EventStream.
//
// A run moves through Created, Building, Running and one terminal state
// (Completed, Cancelled or Failed). Streams always open with a start event
// and end with exactly one of finish, cancelled or error.
//
// Cancellation is cooperative. Run observes the session token before
// building the plan; Stream additionally observes it before every model turn
// and before every tool call. A model call that is already in flight finishes
// before the token is honoured.
//
// Failures never escape Run or Stream as panics or raw errors: they are
// reported as a Result with Success=false or as a terminal error event, each
// carrying a FailureReason.
package runtime
