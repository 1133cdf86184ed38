// Package service holds the application flows that tie retrieval, profiles,
// the adaptive engine, the ledger and the LLM together.
package service

import "errors"

// ErrNoEvidence is returned when a flow that needs grounded material finds
// none for the requested scope and topic.
var ErrNoEvidence = errors.New("no grounding evidence found")
