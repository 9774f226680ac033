// Package api содержит OpenAPI-описание HTTP API консоли.
package api

import _ "embed"

//go:embed openapi.json
var OpenAPISpec []byte
