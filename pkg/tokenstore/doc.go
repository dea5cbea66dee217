// Package tokenstore holds the console session token behind a small Store
// interface with interchangeable backends: process memory, a sealed bbolt
// record, or a server-managed session cookie.
package tokenstore
