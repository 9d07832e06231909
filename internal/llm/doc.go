// Package llm contains the provider-neutral chat model contract used by the
// agent: role-tagged messages, function tools and tool calls.
package llm
