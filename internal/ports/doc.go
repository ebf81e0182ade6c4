// Package ports defines the interfaces between the application core and its
// adapters: the event bus, the issue tracker, the prompt builder, agent
// execution, durable session snapshots and metrics.
package ports
