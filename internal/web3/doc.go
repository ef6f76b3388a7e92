// Package web3 defines the chain access abstractions used by the
// wallet-balance agent and the operational chain snapshot endpoint.
package web3
