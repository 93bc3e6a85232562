// Package delivery decides what reaches a recipient and sends it.
//
// It holds the per-feed rate governor, the two lock families and send caps,
// content selection and message rendering, and the executor that talks to the
// messaging port with media fallback, flood handling and a retry policy.
package delivery
