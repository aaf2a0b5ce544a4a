// Package docs registers the status API's swagger spec with swaggo's
// registry so gin-swagger can serve it at /swagger/*any. Hand-maintained
// rather than `swag init`-generated, since the toolchain that would
// regenerate it from the handler doc comments isn't run here; keep this in
// sync with the @-annotations in internal/api/handlers by hand.
package docs

import (
	"github.com/swaggo/swag"
)

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{.Description}}",
        "contact": {
            "name": "resolvfuzz",
            "url": "https://github.com/jroosing/resolvfuzz"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {
                "tags": ["system"],
                "summary": "Health check",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/stats": {
            "get": {
                "tags": ["system"],
                "summary": "Fuzzer statistics",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/corpus/{resolver}": {
            "get": {
                "tags": ["corpus"],
                "summary": "Corpus size",
                "parameters": [{"name": "resolver", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/diffs/{fingerprint}": {
            "get": {
                "tags": ["diffs"],
                "summary": "Look up a discovered divergence",
                "parameters": [{"name": "fingerprint", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        }
    }
}`

// SwaggerInfo holds exported swagger metadata, mirroring swag's generated shape.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "resolvfuzz Status API",
	Description:      "Read-only REST API for observing a running differential DNS resolver fuzzer.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
