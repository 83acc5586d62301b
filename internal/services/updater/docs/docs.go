// Package docs registers the swagger document for the updater admin api.
// Keep it in step with the route annotations in updater/module/routes.go.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Updater"],
                "summary": "Liveness of the refresh run",
                "responses": {
                    "200": {"description": "ok", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "503": {"description": "stopped"}
                }
            }
        },
        "/api/v1/updater/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Updater"],
                "summary": "Run counters, pools, limits and registry totals",
                "responses": {
                    "200": {"description": "ok", "schema": {"$ref": "#/definitions/module.Status"}}
                }
            }
        },
        "/api/v1/updater/dead-letters": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Updater"],
                "summary": "Stored and unrecorded dead letters",
                "parameters": [
                    {"type": "integer", "description": "max stored rows", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "ok", "schema": {"$ref": "#/definitions/module.DeadLetters"}},
                    "400": {"description": "bad limit"}
                }
            }
        },
        "/api/v1/updater/drain": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Updater"],
                "summary": "Start a cooperative shutdown",
                "responses": {
                    "202": {"description": "accepted", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "401": {"description": "bad admin token"}
                }
            }
        },
        "/api/v1/updater/dead-letters/replay": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Updater"],
                "summary": "Move dead letters back onto the queue",
                "parameters": [
                    {"type": "integer", "description": "max letters, 0 for all", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "ok", "schema": {"type": "object", "additionalProperties": {"type": "integer"}}},
                    "401": {"description": "bad admin token"}
                }
            }
        },
        "/api/v1/updater/resources": {
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Updater"],
                "summary": "Add proxies or credentials to a pool",
                "parameters": [
                    {"description": "Resources", "name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/module.AddResources"}}
                ],
                "responses": {
                    "200": {"description": "ok", "schema": {"type": "object", "additionalProperties": {"type": "integer"}}},
                    "400": {"description": "invalid resources"},
                    "401": {"description": "bad admin token"}
                }
            }
        }
    },
    "definitions": {
        "module.AddResources": {
            "type": "object",
            "required": ["kind", "values"],
            "properties": {
                "kind": {"type": "string", "enum": ["proxy", "credential"]},
                "values": {"type": "array", "items": {"type": "string"}}
            }
        },
        "domain.DeadLetter": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "source": {"type": "string"},
                "external_id": {"type": "string"},
                "kind": {"type": "string"},
                "attempts": {"type": "integer"},
                "last_error": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "module.DeadLetters": {
            "type": "object",
            "properties": {
                "stored": {"type": "array", "items": {"$ref": "#/definitions/domain.DeadLetter"}},
                "unrecorded": {"type": "array", "items": {"$ref": "#/definitions/domain.DeadLetter"}}
            }
        },
        "domain.RegistryStat": {
            "type": "object",
            "properties": {
                "kind": {"type": "string"},
                "total": {"type": "integer"},
                "healthy": {"type": "integer"},
                "cooling": {"type": "integer"},
                "blacklisted": {"type": "integer"},
                "uses": {"type": "integer"}
            }
        },
        "module.Status": {
            "type": "object",
            "properties": {
                "run_id": {"type": "string"},
                "state": {"type": "string"},
                "workers": {"type": "integer"},
                "in_flight": {"type": "integer"},
                "queued": {"type": "integer"},
                "stored": {"type": "integer"},
                "missing": {"type": "integer"},
                "dead_lettered": {"type": "integer"},
                "requeued": {"type": "integer"},
                "cache_hits": {"type": "integer"},
                "media_failures": {"type": "integer"},
                "unrecorded_dead_letters": {"type": "integer"},
                "paused": {"type": "object", "additionalProperties": {"type": "string"}},
                "pools": {"type": "object", "additionalProperties": {"type": "object"}},
                "stages": {"type": "object", "additionalProperties": {"type": "integer"}},
                "limits": {"type": "object", "additionalProperties": {"type": "array", "items": {"type": "string"}}},
                "registry": {"type": "array", "items": {"$ref": "#/definitions/domain.RegistryStat"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so main can set the version
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Shinga Updater Admin API",
	Description:      "Operator endpoints for the title refresh run",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
