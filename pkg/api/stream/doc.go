// Package stream turns a subject's work session into an ordered sequence of
// JSON frames for external observers.
//
// A stream first replays the latest session: a status frame, a progress
// frame, the most recent log events and, for a finished session whose final
// event fell outside the tail, a synthesized complete or error frame. It then
// forwards live events for the subject with periodic keep-alive frames until
// the peer goes away, the maximum lifetime passes, or the observer falls too
// far behind. Transports (SSE, WebSocket) only supply the write function.
package stream
