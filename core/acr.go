package core

import "strings"

// ACRSatisfied is the only authentication context class reference this
// provider asserts.
const ACRSatisfied = "1"

// HasACRValue returns true if name is one of the space separated values in
// acrValues. Matching is exact.
func HasACRValue(acrValues, name string) bool {
	if name == "" {
		return false
	}
	for _, v := range strings.Fields(acrValues) {
		if v == name {
			return true
		}
	}
	return false
}

// ACRClaims returns the acr claim to add to a new grant, if the request asked
// for a reference value we satisfy. Exchanges never add one, the claim is
// carried from the original grant.
func ACRClaims(grant GrantKind, acrValues string) []Claim {
	if grant != GrantAuthorization || !HasACRValue(acrValues, ACRSatisfied) {
		return nil
	}
	return []Claim{NewClaim(ClaimACR, ACRSatisfied)}
}
