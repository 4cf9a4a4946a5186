package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Candidate Sync API",
        "description": "Live candidate tracking with quota-governed synchronization.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Session", "description": "Engine session lifecycle"},
        {"name": "Candidates", "description": "Reconciled candidates and write intents"},
        {"name": "Configuration", "description": "Questions, summary template and mention"},
        {"name": "Quota", "description": "Usage estimate and shared lock"},
        {"name": "Presence", "description": "Who is online (admins)"},
        {"name": "Audit", "description": "Audit trail"},
        {"name": "Stream", "description": "WebSocket snapshot events"}
    ],
    "paths": {
        "/session": {
            "get": {
                "tags": ["Session"],
                "summary": "Describe the engine session of the caller",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Session"],
                "summary": "Start or resume the engine session of the caller",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Session"],
                "summary": "Sign out and stop the engine session",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "204": {"description": "No Content"},
                    "409": {"description": "Session not started", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/candidates": {
            "get": {
                "tags": ["Candidates"],
                "summary": "List reconciled candidates",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "sort", "in": "query", "type": "string", "enum": ["newest", "oldest", "name"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Candidates"],
                "summary": "Create a candidate",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SaveCandidateRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "National id already registered", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "423": {"description": "Locked", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Candidates"],
                "summary": "Update a candidate",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SaveCandidateRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "423": {"description": "Locked", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/candidates/export": {
            "get": {
                "tags": ["Candidates"],
                "summary": "Download the reconciled candidates as CSV",
                "security": [{"BearerAuth": []}],
                "produces": ["text/csv"],
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "sort", "in": "query", "type": "string", "enum": ["newest", "oldest", "name"]}
                ],
                "responses": {"200": {"description": "CSV file"}}
            }
        },
        "/candidates/{id}": {
            "get": {
                "tags": ["Candidates"],
                "summary": "Get one reconciled candidate",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Candidates"],
                "summary": "Update a candidate by id",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SaveCandidateRequest"}}
                ],
                "responses": {"202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "delete": {
                "tags": ["Candidates"],
                "summary": "Delete a candidate (admins)",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/candidates/{id}/summary": {
            "get": {
                "tags": ["Candidates"],
                "summary": "Resolve the summary of a candidate",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/config": {
            "get": {
                "tags": ["Configuration"],
                "summary": "Get the live configuration",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Not configured yet", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Configuration"],
                "summary": "Patch questions, summary template or mention (admins)",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ConfigPatchRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/quota": {
            "get": {
                "tags": ["Quota"],
                "summary": "Get the quota state of the session",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/quota/reload": {
            "post": {
                "tags": ["Quota"],
                "summary": "Reset local counters and reopen feeds dropped by a lock",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/presence": {
            "get": {
                "tags": ["Presence"],
                "summary": "List presence entries with their online state",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "online", "in": "query", "type": "boolean"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/profiles": {
            "get": {
                "tags": ["Presence"],
                "summary": "List user profiles",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/audit": {
            "get": {
                "tags": ["Audit"],
                "summary": "List audit entries, newest first",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "limit", "in": "query", "type": "integer"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/stream": {
            "get": {
                "tags": ["Stream"],
                "summary": "Subscribe to session snapshot events over a WebSocket",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "access_token", "in": "query", "type": "string"}],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        }
    },
    "definitions": {
        "SaveCandidateRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {
                "id": {"type": "string"},
                "nationalId": {"type": "string"},
                "name": {"type": "string"},
                "age": {"type": "string"},
                "interviewer": {"type": "string"},
                "status": {"type": "string", "enum": ["under-review", "accepted", "rejected"]},
                "answers": {"type": "object", "additionalProperties": {"type": "string"}},
                "scores": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "QuestionInput": {
            "type": "object",
            "required": ["id", "label", "type"],
            "properties": {
                "id": {"type": "string"},
                "label": {"type": "string"},
                "type": {"type": "string", "enum": ["text", "textarea", "single-select"]},
                "options": {"type": "array", "items": {"type": "string"}},
                "visibility": {"type": "string", "enum": ["all", "trainers-and-above", "admins-only"]}
            }
        },
        "TemplateItemInput": {
            "type": "object",
            "required": ["kind"],
            "properties": {
                "id": {"type": "string"},
                "kind": {"type": "string", "enum": ["question-reference", "computed", "fixed"]},
                "enabled": {"type": "boolean"},
                "visibility": {"type": "string"},
                "label": {"type": "string"},
                "questionId": {"type": "string"},
                "computed": {"type": "string", "enum": ["total-score", "created-at", "updated-at"]},
                "text": {"type": "string"}
            }
        },
        "ConfigPatchRequest": {
            "type": "object",
            "properties": {
                "questions": {"type": "array", "items": {"$ref": "#/definitions/QuestionInput"}},
                "summaryTemplate": {"type": "array", "items": {"$ref": "#/definitions/TemplateItemInput"}},
                "healthSupervisorMention": {"type": "string"}
            }
        },
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
