package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type operationDoc struct {
	id        string
	summary   string
	responses map[string]string
}

// operations documents every authenticated route; routes missing here are
// still listed with a generated id.
var operations = map[string]operationDoc{
	"GET /events": {"streamEvents", "Server-sent stream of work item lifecycle events, filtered by workspace, type and item",
		map[string]string{"200": "text/event-stream", "400": "Unknown event type"}},
	"POST /workspaces/{ws}/work-items": {"enqueueInput", "Seed an input work item",
		map[string]string{"201": "Created", "400": "Invalid payload"}},
	"GET /workspaces/{ws}/work-items": {"listWorkItems", "List work items of a workspace",
		map[string]string{"200": "Items", "400": "Invalid filter"}},
	"GET /workspaces/{ws}/work-items/{id}": {"getWorkItem", "Get a work item with its payload",
		map[string]string{"200": "Item", "404": "Not found"}},
	"POST /workspaces/{ws}/runs/{run}/reserve": {"reserveInput", "Reserve the oldest pending input",
		map[string]string{"200": "Reserved", "204": "Queue empty"}},
	"POST /workspaces/{ws}/work-items/{id}/release": {"releaseInput", "Release a reserved input as DONE or FAILED",
		map[string]string{"204": "Released", "400": "Invalid state or exception", "409": "Already released"}},
	"POST /workspaces/{ws}/work-items/{id}/outputs": {"createOutput", "Create an output under a reserved input",
		map[string]string{"201": "Created", "409": "Parent released"}},
	"GET /workspaces/{ws}/work-items/{id}/data": {"getPayload", "Get the payload",
		map[string]string{"200": "Payload", "404": "Not found"}},
	"PUT /workspaces/{ws}/work-items/{id}/data": {"setPayload", "Replace the payload",
		map[string]string{"204": "Saved", "400": "Invalid JSON", "409": "Already released"}},
	"GET /workspaces/{ws}/work-items/{id}/files": {"listFiles", "List attached files",
		map[string]string{"200": "Files"}},
	"GET /workspaces/{ws}/work-items/{id}/files/{name}": {"getFile", "Download a file",
		map[string]string{"200": "File bytes", "404": "Not found"}},
	"PUT /workspaces/{ws}/work-items/{id}/files/{name}": {"putFile", "Upload or replace a file",
		map[string]string{"201": "Stored", "409": "Already released", "413": "Too large"}},
	"DELETE /workspaces/{ws}/work-items/{id}/files/{name}": {"deleteFile", "Remove a file",
		map[string]string{"204": "Removed", "404": "Not found"}},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the routes of r.
func buildOpenAPIDoc(r chi.Routes) map[string]any {
	paths := map[string]map[string]any{}

	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.TrimSuffix(route, "/")
		if route == "" || route == "/openapi.json" {
			return nil
		}

		key := method + " " + route
		doc, ok := operations[key]
		if !ok {
			doc = operationDoc{id: strings.ToLower(method) + strings.NewReplacer("/", "_", "{", "", "}", "").Replace(route)}
		}

		responses := map[string]any{
			"401": map[string]any{"description": "Missing or invalid token"},
			"403": map[string]any{"description": "Insufficient scope"},
		}
		for code, desc := range doc.responses {
			responses[code] = map[string]any{"description": desc}
		}
		op := map[string]any{
			"operationId": doc.id,
			"responses":   responses,
			"security":    []any{map[string]any{"BearerAuth": []string{}}},
		}
		if doc.summary != "" {
			op["summary"] = doc.summary
		}
		if params := pathParams(route); len(params) > 0 {
			op["parameters"] = params
		}
		if route == "/healthz" {
			delete(op, "security")
			op["responses"] = map[string]any{"200": map[string]any{"description": "Service health"}}
		}

		if paths[route] == nil {
			paths[route] = map[string]any{}
		}
		paths[route][strings.ToLower(method)] = op
		return nil
	})

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Work Items Queue",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func pathParams(route string) []any {
	var params []any
	for _, seg := range strings.Split(route, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params = append(params, map[string]any{
				"name":     strings.Trim(seg, "{}"),
				"in":       "path",
				"required": true,
				"schema":   map[string]any{"type": "string"},
			})
		}
	}
	return params
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.openapi)
}
