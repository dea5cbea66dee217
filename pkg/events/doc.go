/*
Package events provides the in-memory broker that carries client-side
notifications between conduit components.

The console client publishes session events (most importantly
session.unauthorized when the server rejects the stored token), and the
progress hub client publishes connection-state changes and migration
progress. Commands subscribe without knowing who
produced the event.

# Architecture

	┌──────────── EVENT BROKER ─────────────┐
	│                                        │
	│  Publish ──► eventCh (buffer: 100)     │
	│                  │                     │
	│            broadcast loop              │
	│                  │                     │
	│     ┌────────────┼────────────┐        │
	│     ▼            ▼            ▼        │
	│  sub (50)     sub (50)     sub (50)    │
	│  all types    unauthorized  progress   │
	└────────────────────────────────────────┘

Delivery is non-blocking: a subscriber whose buffer is full misses the
event. Subscribers that must not miss anything should drain promptly.

# Event Types

	session.unauthorized   token rejected, local session cleared
	session.logged_in      credentials stored after login
	session.logged_out     credentials removed by logout
	hub.state_changed      progress hub connection state changed
	migration.progress     progress event delivered for a group
	migration.completed    terminal progress event for a group

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(events.EventUnauthorized)
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			fmt.Println("session expired:", ev.Message)
		}
	}()

Stop is idempotent. Publish after Stop drops the event instead of
blocking.
*/
package events
