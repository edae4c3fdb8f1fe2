// Package engine drives a stream of homogeneous tasks through a fixed pool of
// goroutines. A single coordinator pulls tasks from the stream, hands them to
// the pool over a bounded channel, saves results in the order they arrive and
// renews the worker heartbeat on an interval. Execution is CPU-bound and never
// touches the store; only the coordinator does.
package engine
