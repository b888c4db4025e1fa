package http

import (
	_ "embed"

	"github.com/swaggo/swag"
)

//go:embed openapi.json
var openAPIDocument []byte

// OpenAPIDocument returns the OpenAPI 2.0 description served at
// /.well-known/openapi.json and rendered by the Swagger UI.
func OpenAPIDocument() []byte {
	return openAPIDocument
}

// swaggerDoc exposes the embedded document to the swag registry, which
// backs /swagger/doc.json.
type swaggerDoc struct{}

func (swaggerDoc) ReadDoc() string { return string(openAPIDocument) }

func init() {
	swag.Register(swag.Name, swaggerDoc{})
}
