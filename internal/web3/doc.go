// Package web3 houses blockchain connectivity for the Safe wallet agent: the
// chain client interface used for balance lookups, Safe metadata calls and
// execTransaction broadcasts, plus its go-ethereum backed implementation.
package web3
