// Package api exposes the REST surface for proposing, accepting, executing,
// and cancelling intents, and for managing security contexts, revocations,
// tier upgrades, and public key commitments.
package api
