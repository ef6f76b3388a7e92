// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific chat-completion APIs (OpenAI, DeepSeek,
// Groq and other OpenAI-compatible endpoints) and normalizes streaming and
// non-streaming request lifecycles for the routing and synthesis layers.
package llm
