package app

import "fmt"

// polymarketURL builds the public market page URL for an event slug.
func polymarketURL(slug string) string {
	return fmt.Sprintf("https://polymarket.com/event/%s", slug)
}

// shortID truncates long identifiers for log output.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "…"
}
