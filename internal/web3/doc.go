// Package web3 houses the blockchain side of a game round: signer
// abstractions over locally held keypairs, the transaction relay that turns a
// server-issued envelope into a submitted (and optionally confirmed)
// transaction, and the chain definition loader used by the provider registry.
package web3
