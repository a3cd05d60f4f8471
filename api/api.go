// Package api содержит статическую OpenAPI-спеку, которую роутер
// отдаёт под /swagger/openapi.json.
package api

import _ "embed"

//go:embed openapi.json
var OpenAPISpec []byte
