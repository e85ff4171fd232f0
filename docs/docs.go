// Package docs registers the swagger document served under /swagger.
// Regenerate with `swag init -g cmd/annotator/main.go -o docs`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {"get": {"tags": ["health"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}},
        "/readyz": {"get": {"tags": ["health"], "summary": "Readiness check", "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}}},
        "/api/collections": {"get": {"tags": ["collections"], "summary": "List collections", "responses": {"200": {"description": "OK"}}}},
        "/api/collections/{name}/range": {"get": {"tags": ["collections"], "summary": "First and last timestamp of a collection",
            "parameters": [{"type": "string", "name": "name", "in": "path", "required": true}],
            "responses": {"200": {"description": "OK"}}}},
        "/api/collections/{name}/waveform": {"get": {"tags": ["collections"], "summary": "Min/max waveform summary",
            "parameters": [
                {"type": "string", "name": "name", "in": "path", "required": true},
                {"type": "string", "name": "start", "in": "query", "required": true},
                {"type": "string", "name": "end", "in": "query", "required": true},
                {"type": "integer", "name": "points", "in": "query"}
            ],
            "responses": {"200": {"description": "OK"}}}},
        "/api/collections/{name}/raw": {"get": {"tags": ["collections"], "summary": "Exact samples for playback",
            "parameters": [
                {"type": "string", "name": "name", "in": "path", "required": true},
                {"type": "string", "name": "start", "in": "query", "required": true},
                {"type": "string", "name": "end", "in": "query", "required": true},
                {"type": "string", "name": "format", "in": "query"}
            ],
            "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
        "/api/ingest": {"post": {"tags": ["ingest"], "summary": "Ingest server-side WAV files", "responses": {"202": {"description": "Accepted"}}}},
        "/api/ingest/upload": {"post": {"tags": ["ingest"], "summary": "Upload WAV files and ingest them", "consumes": ["multipart/form-data"], "responses": {"202": {"description": "Accepted"}}}},
        "/api/ingest/jobs": {"get": {"tags": ["ingest"], "summary": "List ingest jobs", "responses": {"200": {"description": "OK"}}}},
        "/api/ingest/jobs/{id}": {"get": {"tags": ["ingest"], "summary": "Get one ingest job",
            "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
            "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/api/events": {
            "get": {"tags": ["events"], "summary": "List annotation events", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["events"], "summary": "Create an annotation event", "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}}
        },
        "/api/events/export": {"get": {"tags": ["events"], "summary": "Export the labelled dataset", "responses": {"200": {"description": "OK"}}}},
        "/api/events/{id}": {
            "get": {"tags": ["events"], "summary": "Get an annotation event", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
            "delete": {"tags": ["events"], "summary": "Delete an annotation event", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/api/events/{id}/status": {"patch": {"tags": ["events"], "summary": "Change an event's review status",
            "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
            "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/api/config/vehicles": {"get": {"tags": ["config"], "summary": "Vehicle classes offered to annotators", "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8000",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "Audio Annotator API",
	Description:      "WAV ingestion into QuestDB, waveform browsing and vehicle event labelling.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
