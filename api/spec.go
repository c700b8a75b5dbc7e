package api

import _ "embed"

// OpenAPISpec is the REST contract served at /openapi.yaml and used for
// request validation.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
