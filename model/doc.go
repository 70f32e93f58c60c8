// Package model normalizes model identifiers to families and prices token
// usage against an injected per-family rate table.
//
//	prices := model.DefaultPrices()
//	cost := prices.Cost("claude-sonnet-4-20250514", 1000, 500) // 0.0105
//
// Unrecognized models are priced at the cheapest tier in the table.
package model
