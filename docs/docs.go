// Package docs holds the Swagger document served under /swagger. Regenerate with
// swag init -g cmd/main.go after changing handler annotations.
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
        "/health": {
            "get": {
                "description": "Check if the service is running",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/oauth/authorize": {
            "get": {
                "description": "Validates the request and renders the consent page. Never issues a code.",
                "produces": ["text/html"],
                "tags": ["OAuth2"],
                "summary": "Start an authorization request",
                "parameters": [
                    {"type": "string", "description": "Must be code", "name": "response_type", "in": "query", "required": true},
                    {"type": "string", "description": "Client identifier", "name": "client_id", "in": "query", "required": true},
                    {"type": "string", "description": "Registered redirect URI", "name": "redirect_uri", "in": "query"},
                    {"type": "string", "description": "Space separated scopes", "name": "scope", "in": "query"},
                    {"type": "string", "description": "Opaque client state", "name": "state", "in": "query"},
                    {"type": "string", "description": "PKCE code challenge", "name": "code_challenge", "in": "query"},
                    {"type": "string", "description": "plain or S256", "name": "code_challenge_method", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Consent page", "schema": {"type": "string"}},
                    "302": {"description": "Redirect carrying an OAuth error"},
                    "400": {"description": "Error page for unknown clients or redirect mismatches", "schema": {"type": "string"}}
                }
            },
            "post": {
                "description": "Re-validates the request and redirects with a code on allow=true, or with access_denied otherwise.",
                "consumes": ["application/x-www-form-urlencoded"],
                "tags": ["OAuth2"],
                "summary": "Submit the owner's consent decision",
                "parameters": [
                    {"type": "string", "description": "true to grant access", "name": "allow", "in": "formData"}
                ],
                "responses": {
                    "302": {"description": "Redirect to the client with code or error"},
                    "400": {"description": "Error page for unknown clients or redirect mismatches", "schema": {"type": "string"}}
                }
            }
        },
        "/oauth/token": {
            "post": {
                "description": "Redeems a code with its PKCE verifier. grant_type=refresh_token is accepted too.",
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "Exchange an authorization code",
                "parameters": [
                    {"type": "string", "description": "authorization_code or refresh_token", "name": "grant_type", "in": "formData", "required": true},
                    {"type": "string", "description": "Authorization code", "name": "code", "in": "formData"},
                    {"type": "string", "description": "Redirect URI of the authorization request", "name": "redirect_uri", "in": "formData"},
                    {"type": "string", "description": "Client identifier", "name": "client_id", "in": "formData"},
                    {"type": "string", "description": "PKCE code verifier", "name": "code_verifier", "in": "formData"},
                    {"type": "string", "description": "Refresh token", "name": "refresh_token", "in": "formData"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.TokenResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.OAuth2Error"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/models.OAuth2Error"}}
                }
            }
        },
        "/oauth/refresh": {
            "post": {
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "Refresh an access token",
                "parameters": [
                    {"type": "string", "description": "refresh_token", "name": "grant_type", "in": "formData"},
                    {"type": "string", "description": "Refresh token", "name": "refresh_token", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.TokenResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.OAuth2Error"}}
                }
            }
        },
        "/resource": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["text/plain"],
                "tags": ["Resource"],
                "summary": "Protected resource",
                "responses": {
                    "200": {"description": "SECRET DATA", "schema": {"type": "string"}},
                    "401": {"description": "Deny page", "schema": {"type": "string"}}
                }
            }
        },
        "/audit": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns the most recent protocol events, newest first",
                "produces": ["application/json"],
                "tags": ["audit"],
                "summary": "List audit events",
                "parameters": [
                    {"type": "string", "description": "Event type, e.g. code_reused", "name": "type", "in": "query"},
                    {"type": "string", "description": "Client identifier", "name": "client_id", "in": "query"},
                    {"type": "integer", "description": "Maximum number of events (default 50, max 500)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.APIError"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/models.OAuth2Error"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.OAuth2Error"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/models.APIError"}}
                }
            }
        }
    },
    "definitions": {
        "models.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "models.OAuth2Error": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "error_description": {"type": "string"}
            }
        },
        "models.TokenResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "expires_in": {"type": "integer"},
                "refresh_token": {"type": "string"},
                "scope": {"type": "string"},
                "token_type": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and the access token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "PKCE Authorization Server",
	Description:      "OAuth2 authorization code grant with PKCE, consent and a protected resource",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
