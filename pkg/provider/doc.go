// Package provider holds what the model backends share: connection
// settings, model name mapping and the translation of backend HTTP failures
// into API errors. The backends live in the openai and anthropic
// subpackages and implement agent.Model.
package provider
