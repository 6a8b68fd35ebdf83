// Package agent implements tool-using LLM agents and the network loop that
// drives them.
//
// An [Agent] pairs a system prompt with a [Model] and a set of [Tool]
// values. A [Network] repeatedly asks its [Router] which agent runs next and
// invokes it until the router returns nil (status done) or the iteration cap
// is reached (status exhausted). One iteration is one model inference
// followed by sequential execution of the tool calls it requested.
//
// Networks are parameterized by a state type S. The network owns a single
// *S that tools and lifecycle hooks read and write; all of them run on the
// goroutine that called [Network.Run], so the state needs no locking.
//
// When a [step.Runner] is attached to the context, every inference runs as
// the durable step "infer:<agent>", so a replayed run sees the same model
// output and reaches the same state.
package agent
