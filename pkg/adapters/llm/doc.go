// Package llm provides language-model client implementations.
//
// The factory creates clients based on provider configuration. Currently
// supports Anthropic; tier names map to concrete models in the adapter so
// the engine never hardcodes one.
package llm
