// Package internal holds helpers shared by the root package and its
// internal sub-packages. Nothing here is part of the public API.
//
// random.go generates challenge codes from crypto/rand. Codes are drawn one
// digit at a time with rand.Int so every value in [0, 10^n) is equally likely.
package internal
