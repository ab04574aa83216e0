package core

// Destination is a token type a claim can be embedded in.
type Destination string

const (
	DestinationAccessToken   Destination = "access_token"
	DestinationIdentityToken Destination = "id_token"
)

// destinationRule routes a claim kind. The identity token is added when
// identityToken is set, or when scope is non-empty and granted.
type destinationRule struct {
	accessToken   bool
	identityToken bool
	scope         string
}

var (
	profileRule = destinationRule{accessToken: true, scope: ScopeProfile}
	defaultRule = destinationRule{accessToken: true}
)

var destinationRules = map[string]destinationRule{
	// acr and auth_time must flow from the authorization endpoint to the id
	// token returned from the token endpoint.
	ClaimACR:      {identityToken: true},
	ClaimAuthTime: {identityToken: true},

	// name is always included, even without the profile scope.
	ClaimName: {accessToken: true, identityToken: true},

	ClaimSubject:           profileRule,
	ClaimGender:            profileRule,
	ClaimGivenName:         profileRule,
	ClaimMiddleName:        profileRule,
	ClaimFamilyName:        profileRule,
	ClaimNickname:          profileRule,
	ClaimPreferredUsername: profileRule,
	ClaimBirthdate:         profileRule,
	ClaimProfile:           profileRule,
	ClaimPicture:           profileRule,
	ClaimWebsite:           profileRule,
	ClaimLocale:            profileRule,
	ClaimZoneinfo:          profileRule,
	ClaimUpdatedAt:         profileRule,

	ClaimEmail:       {accessToken: true, scope: ScopeEmail},
	ClaimPhoneNumber: {accessToken: true, scope: ScopePhone},
	ClaimAddress:     {accessToken: true, scope: ScopeAddress},
}

// Destinations returns the token types a claim of the given kind should be
// embedded in, for a ticket with the granted scopes. Unknown kinds go to the
// access token only.
func Destinations(kind string, granted Scopes) []Destination {
	rule, ok := destinationRules[kind]
	if !ok {
		rule = defaultRule
	}

	var ret []Destination
	if rule.accessToken {
		ret = append(ret, DestinationAccessToken)
	}
	if rule.identityToken || (rule.scope != "" && granted.Has(rule.scope)) {
		ret = append(ret, DestinationIdentityToken)
	}
	return ret
}
