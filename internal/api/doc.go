// Package api exposes the HTTP surface: trigger a round, browse the analysis
// history and registered automation tasks, query on-chain automation status
// and scrape metrics.
package api
