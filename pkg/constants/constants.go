// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package constants holds small shared values that don't belong to any one
// package: channel names the agent loop treats specially, mostly.
package constants

// internalChannels are synthetic origins used for agent-to-agent traffic
// (subagent results, system-generated messages, the local console) rather
// than a real user-facing transport. The agent loop logs activity on these
// instead of recording them as "last seen channel" or forwarding replies.
var internalChannels = map[string]bool{
	"cli":      true,
	"system":   true,
	"subagent": true,
}

// IsInternalChannel reports whether channel is one of the synthetic,
// non-user-facing origins.
func IsInternalChannel(channel string) bool {
	return internalChannels[channel]
}
