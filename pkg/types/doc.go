/*
Package types defines the data transfer objects shared by the console
client, the progress hub client and the development server.

All types serialize to camelCase JSON, matching the console REST API.
ProgressEvent is the payload of the hub's ProgressUpdate message;
MigrationJob doubles as the server resource and the local snapshot kept
by pkg/storage.
*/
package types
