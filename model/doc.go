// Package model holds the issuance domain entities, the verification bundle,
// and the structured error taxonomy shared by every pipeline stage.
//
// The scheduler owns all state transitions on these entities; storage owns
// bytes. No shared mutable objects cross stage boundaries.
package model
