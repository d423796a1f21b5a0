// Package fetch retrieves seller catalogs from the Eldorado listings
// API. The Fetcher interface decouples the poller from the HTTP
// client so tests can substitute canned catalogs.
package fetch
