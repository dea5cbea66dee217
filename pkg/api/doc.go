/*
Package api implements the conduit dev server: a self-contained stand-in
for the migration console's REST API and its realtime progress hub.

It exists so the CLI and the client packages can be exercised end to end
without a real console. Data lives in SQLite (in memory by default) or
Postgres through gorm; migrations are simulated and report progress over
the same hub protocol the console uses.

# Architecture

	┌───────────────────────── DEV SERVER ─────────────────────────┐
	│                                                                │
	│  gin engine                                                    │
	│   ├─ /health /ready /live /metrics /swagger                   │
	│   ├─ /api/auth/*            sessions (bcrypt, bearer/cookie)   │
	│   ├─ /api/{applications,connections,users,roles}   CRUD       │
	│   ├─ /api/migrations        start ──► runner ──┐               │
	│   └─ /hubs/migration        negotiate, ws, poll│               │
	│                                  ▲             │ Broadcast     │
	│                                  └──── Hub ◄───┘               │
	│                                                                │
	│  janitor (cron): purge finished migrations, expired sessions,  │
	│                  idle long-poll connections                    │
	└────────────────────────────────────────────────────────────────┘

# Responses

Successful calls answer {"success":true,"data":...}. Failures answer
{"success":false,"error":{"code","message","details","traceId"}} except
request-body validation, which uses a problem-details body with an
errors map keyed by JSON field name. Overload is reported as 503 with
Retry-After.

# Simulated migrations

A job copies 250 rows per requested table (1000 when none are named) in
ten chunks, one per step interval. A table whose name starts with "fail"
makes the job fail halfway through it. The hub replays a group's latest
event to a connection that joins late.

# Usage

	srv, err := api.NewServer(api.Config{
		Addr:     ":8080",
		Username: "admin",
		Password: "admin",
	})
	if err != nil {
		return err
	}
	defer srv.Close()
	return srv.Run(ctx)
*/
package api
