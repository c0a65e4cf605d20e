// Package coretools implements the four chat tools: weather, changelog,
// news and summarize_article.
//
// Every handler is total: upstream failures become a structured payload
// ({"error": ...}, an empty list, or content: null) rather than a Go error,
// so the conversation continues after any single tool failure.
//
// Usage:
//
//	reg := toolexecutor.NewRegistry()
//	err := coretools.Register(reg, coretools.Deps{
//		Changelog: coretools.DefaultChangelog(),
//		News:      coretools.NewNewsClient("https://newsapi.org/v2", key),
//		Extractor: coretools.NewProxyExtractor("https://r.jina.ai"),
//	})
package coretools
