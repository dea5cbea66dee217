/*
Package progress streams migration progress from the console's realtime hub.

The hub speaks a small JSON protocol: every message is a JSON record
terminated by the 0x1E byte, and a connection opens with a handshake
({"protocol":"json","version":1} answered by {}). The client negotiates a
connection id over HTTP, then prefers WebSockets and falls back to long
polling when the server does not offer them or the upgrade fails.

# Architecture

	┌──────────────────── PROGRESS CLIENT ───────────────────────┐
	│                                                              │
	│  JoinGroup(g) ──► Connect ──► negotiate ──► transport        │
	│                                   │         (ws | longpoll)  │
	│                                   ▼                          │
	│                              handshake                       │
	│                                   │                          │
	│        readLoop ◄─────────────────┘                          │
	│           │ ProgressUpdate                                   │
	│           ▼                                                  │
	│        session queue ──► dispatch ──► handlers, event bus    │
	│                                                              │
	│  connection lost ──► reconnect(0s, 2s, 10s, 30s)             │
	│                         │ success: attempts=0, rejoin groups │
	│                         └ exhausted: Disconnected            │
	└──────────────────────────────────────────────────────────────┘

# Delivery

Handlers run on one goroutine per session, in the order events arrived.
Once a group reports IsCompleted, later events for that group are dropped
until the group is joined again. A panicking handler is logged and the
remaining handlers still run.

# Usage

	hub, err := progress.NewClient(progress.Config{
		HubURL: "https://console.example.com/hubs/migration",
	}, store, progress.WithHTTPClient(api.HTTPClient()))

	hub.OnProgress(func(ev types.ProgressEvent) {
		fmt.Printf("%s %.0f%%\n", ev.GroupID, ev.Percent())
	})
	if err := hub.JoinGroup(ctx, job.GroupID); err != nil {
		return err
	}
	defer hub.Disconnect()
*/
package progress
