// Package engine is the shard-resident inference orchestrator for one
// pipeline node. It keeps the current shard's model and tokenizer loaded,
// holds per-session token histories, decides the forward-pass mode for
// each step and samples tokens on the terminal shard. All blocking work
// runs on a single executor worker.
//
// Files by concern:
//
//   - engine.go: Engine type, constructor, simple getters, Close.
//   - config.go: Config and package defaults.
//   - types.go: State, loaded shard record, Snapshot, StepResult.
//   - errors.go: error kinds and their IsXxx predicates.
//   - admission.go: bounded wait for the executor queue.
//   - ensure.go: EnsureShard, build-then-commit shard loading.
//   - session.go: session table and LRU eviction.
//   - infer.go: InferStep and the shape-inferred InferTensor.
//   - tokens.go: Encode and Decode.
//   - sampling.go: Sample over logits batches.
//   - status_report.go: Status and Snapshot.
//   - events.go, eventpub_memory.go: lifecycle events.
//   - metrics.go: Prometheus collectors.
package engine
