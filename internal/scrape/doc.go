// Package scrape fetches source-channel pages and extracts posts from them.
//
// Fetch and extract failures share one closed set of kinds (see Kind). Callers
// switch on KindOf(err) instead of matching error strings:
//
//	switch scrape.KindOf(err) {
//	case scrape.ChannelNotFound, scrape.ScrapeBlocked:
//		// skip this source until its next turn
//	case scrape.PostListMissing, scrape.PostIDMissing:
//		// keep the raw page for inspection
//	}
package scrape
