package api

import "github.com/swaggo/swag"

// swaggerInfo is served at /swagger/doc.json
var swaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/api",
	Schemes:          []string{"http"},
	Title:            "conduit dev server",
	Description:      "Local stand-in for the migration console API and its progress hub.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(swaggerInfo.InstanceName(), swaggerInfo)
}

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "schemes": {{ marshal .Schemes }},
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"Bearer": []}],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["auth"],
                "summary": "Log in",
                "parameters": [{"in": "body", "name": "credentials", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {"200": {"description": "Session token"}, "401": {"description": "Invalid credentials"}}
            }
        },
        "/auth/logout": {"post": {"tags": ["auth"], "summary": "Log out", "responses": {"200": {"description": "Logged out"}}}},
        "/auth/validate": {"get": {"tags": ["auth"], "summary": "Validate the session token", "responses": {"200": {"description": "Session info"}}}},
        "/auth/me": {"get": {"tags": ["auth"], "summary": "Current user", "responses": {"200": {"description": "User"}}}},
        "/applications": {
            "get": {"tags": ["applications"], "summary": "List applications", "responses": {"200": {"description": "Applications"}}},
            "post": {"tags": ["applications"], "summary": "Register an application", "responses": {"201": {"description": "Created"}, "409": {"description": "Duplicate name"}}}
        },
        "/applications/{id}": {
            "get": {"tags": ["applications"], "summary": "Get an application", "responses": {"200": {"description": "Application"}, "404": {"description": "Not found"}}},
            "put": {"tags": ["applications"], "summary": "Update an application", "responses": {"200": {"description": "Updated"}}},
            "delete": {"tags": ["applications"], "summary": "Delete an application", "responses": {"204": {"description": "Deleted"}}}
        },
        "/connections": {
            "get": {"tags": ["connections"], "summary": "List connections", "responses": {"200": {"description": "Connections"}}},
            "post": {"tags": ["connections"], "summary": "Create a connection", "responses": {"201": {"description": "Created"}}}
        },
        "/connections/{id}/test": {"post": {"tags": ["connections"], "summary": "Check that a connection is reachable", "responses": {"200": {"description": "Test result"}}}},
        "/users": {
            "get": {"tags": ["users"], "summary": "List users", "responses": {"200": {"description": "Users"}}},
            "post": {"tags": ["users"], "summary": "Create a user", "responses": {"201": {"description": "Created"}}}
        },
        "/roles": {
            "get": {"tags": ["roles"], "summary": "List roles", "responses": {"200": {"description": "Roles"}}},
            "post": {"tags": ["roles"], "summary": "Create a role", "responses": {"201": {"description": "Created"}}}
        },
        "/migrations": {
            "get": {"tags": ["migrations"], "summary": "List migrations", "responses": {"200": {"description": "Migrations"}}},
            "post": {
                "tags": ["migrations"],
                "summary": "Start a migration",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/StartMigrationRequest"}}],
                "responses": {"201": {"description": "Started"}, "400": {"description": "Validation failed"}}
            }
        },
        "/migrations/{id}": {"get": {"tags": ["migrations"], "summary": "Get a migration", "responses": {"200": {"description": "Migration"}}}},
        "/migrations/{id}/cancel": {"post": {"tags": ["migrations"], "summary": "Cancel a running migration", "responses": {"200": {"description": "Canceled"}, "409": {"description": "Not running"}}}}
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {"username": {"type": "string"}, "password": {"type": "string"}}
        },
        "StartMigrationRequest": {
            "type": "object",
            "required": ["sourceConnectionId", "targetConnectionId"],
            "properties": {
                "sourceConnectionId": {"type": "string"},
                "targetConnectionId": {"type": "string"},
                "tables": {"type": "array", "items": {"type": "string"}}
            }
        }
    }
}`
