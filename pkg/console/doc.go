// Package console provides typed calls for the console REST resources,
// built on the client facade so every call shares its auth, retry and
// error handling.
package console
