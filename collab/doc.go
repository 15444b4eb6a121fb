// Package collab implements the WebSocket multi-agent coordination layer:
// sessions that group agents, task distribution with capability matching,
// progress broadcast fan-out, and agent-to-agent collaboration requests.
//
// A Server owns the session registry and relays JSON event envelopes between
// connected participants. A Client is the agent-side SDK: it dials the
// server, registers agents with declared capabilities and task handlers, and
// reports handler progress automatically.
//
// Server:
//
//	srv := collab.NewServer()
//	defer srv.Close()
//	http.Handle("/ws", srv)
//
// Agent client:
//
//	client, err := collab.Dial(ctx, "ws://localhost:8080/ws")
//	if err != nil { ... }
//	defer client.Close()
//
//	client.JoinSession(ctx, "research")
//	client.RegisterAgent(ctx, "research", agent, summarizeHandler)
//
// Every frame on the wire is an Envelope{Type, Payload}; unknown or
// malformed frames are answered with an "error" envelope and never
// terminate the connection.
package collab
