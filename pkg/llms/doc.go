// Package llms defines the contract between the conversation engine and
// completion services: messages with typed parts, tool definitions,
// tool calls and call options.
//
// Each subpackage implements Model for one provider.
package llms
