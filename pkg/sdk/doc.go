// Package retrievex is the Go client for the retrievex HTTP API.
//
// Basic usage:
//
//	client := retrievex.New("http://localhost:8080", retrievex.WithAPIKey("secret"))
//	resp, err := client.Retrieve(ctx, retrievex.Request{
//		TenantID: "acme",
//		UserID:   "u-1",
//		Query:    "quarterly revenue report",
//	})
package retrievex
