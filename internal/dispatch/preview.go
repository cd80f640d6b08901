// Package dispatch contains the outbound fan-out engine: it splits a send
// request into per-recipient delivery units, drives the push transport, and
// aggregates partial success into one caller-visible outcome.
package dispatch

import "fmt"

// RecipientPreview summarizes an ordered recipient list for display:
//
//	[]                 -> ""
//	[A]                -> "A"
//	[A B]              -> "A and B"
//	[A B C]            -> "A, B, and C"
//	[A B C D ...]      -> "A, B, and N others" (N = len-2)
//
// Deterministic and order-preserving over the entries shown.
func RecipientPreview(recipients []string) string {
	switch len(recipients) {
	case 0:
		return ""
	case 1:
		return recipients[0]
	case 2:
		return fmt.Sprintf("%s and %s", recipients[0], recipients[1])
	case 3:
		return fmt.Sprintf("%s, %s, and %s", recipients[0], recipients[1], recipients[2])
	default:
		return fmt.Sprintf("%s, %s, and %d others", recipients[0], recipients[1], len(recipients)-2)
	}
}
