// Package grpc serves the standard gRPC health checking protocol, reporting
// SERVING while the worker pool is initialized and has execution capacity.
package grpc
