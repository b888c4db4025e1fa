// Package main is the entry point for usagebill.
//
//	@title						usagebill - usage-based draft invoices
//	@version					1.0
//	@description				Computes draft invoice amounts from raw usage events, plan components and price adjustments.
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
//	@description				API key for authentication
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication (format: "Bearer {api_key}")
package main

func main() {
	Execute()
}
