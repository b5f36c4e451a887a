package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "LexiGrade API",
        "description": "Language academy essay grading and class realtime API",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Accounts, sessions and profiles"},
        {"name": "Classes", "description": "Classes, join codes and rosters"},
        {"name": "Forum", "description": "Class forum posts and replies"},
        {"name": "Assignments", "description": "Essay assignments and targets"},
        {"name": "Submissions", "description": "Essay uploads and corrections"},
        {"name": "Notifications", "description": "In-app notification feed"},
        {"name": "Reminders", "description": "Due-date reminder scheduling"},
        {"name": "Billing", "description": "Subscription state and provider webhook"},
        {"name": "Exports", "description": "Roster and result exports"},
        {"name": "Realtime", "description": "Websocket class updates"}
    ],
    "paths": {
        "/auth/register": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register a new account",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Email already registered"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Invalid refresh token"}
                }
            }
        },
        "/classes": {
            "get": {
                "tags": ["Classes"],
                "summary": "List classes visible to the caller",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["Classes"],
                "summary": "Create a class",
                "responses": {
                    "201": {"description": "Created"},
                    "402": {"description": "Subscription required"}
                }
            }
        },
        "/classes/join": {
            "post": {
                "tags": ["Classes"],
                "summary": "Join a class by code",
                "responses": {
                    "200": {"description": "Joined (idempotent)"},
                    "404": {"description": "Unknown join code"}
                }
            }
        },
        "/classes/{id}/roster": {
            "get": {
                "tags": ["Classes"],
                "summary": "List the class roster",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/classes/{id}/forum": {
            "get": {
                "tags": ["Forum"],
                "summary": "Forum feed, oldest first",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/assignments": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Publish an assignment to the current roster",
                "responses": {
                    "201": {"description": "Created"},
                    "412": {"description": "Roster is empty"}
                }
            }
        },
        "/assignments/{id}/submissions": {
            "post": {
                "tags": ["Submissions"],
                "summary": "Submit an essay file",
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Target already submitted or late"},
                    "415": {"description": "Unsupported file format"}
                }
            }
        },
        "/billing/webhook": {
            "post": {
                "tags": ["Billing"],
                "summary": "Payment provider webhook",
                "responses": {
                    "200": {"description": "Received"},
                    "401": {"description": "Bad signature"}
                }
            }
        },
        "/ws": {
            "get": {
                "tags": ["Realtime"],
                "summary": "Websocket upgrade for class snapshots and change updates",
                "responses": {"101": {"description": "Switching protocols"}}
            }
        }
    },
    "definitions": {
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
