package core

// Claim kinds used by this provider.
//
// https://openid.net/specs/openid-connect-core-1_0.html#StandardClaims
const (
	ClaimSubject             = "sub"
	ClaimName                = "name"
	ClaimGivenName           = "given_name"
	ClaimMiddleName          = "middle_name"
	ClaimFamilyName          = "family_name"
	ClaimGender              = "gender"
	ClaimNickname            = "nickname"
	ClaimPreferredUsername   = "preferred_username"
	ClaimBirthdate           = "birthdate"
	ClaimProfile             = "profile"
	ClaimPicture             = "picture"
	ClaimWebsite             = "website"
	ClaimLocale              = "locale"
	ClaimZoneinfo            = "zoneinfo"
	ClaimUpdatedAt           = "updated_at"
	ClaimEmail               = "email"
	ClaimEmailVerified       = "email_verified"
	ClaimPhoneNumber         = "phone_number"
	ClaimPhoneNumberVerified = "phone_number_verified"
	ClaimAddress             = "address"
	ClaimACR                 = "acr"
	ClaimAuthTime            = "auth_time"
	ClaimScope               = "scope"
)

// Members of the structured address claim.
//
// https://openid.net/specs/openid-connect-core-1_0.html#AddressClaim
const (
	AddressCountry       = "country"
	AddressLocality      = "locality"
	AddressPostalCode    = "postal_code"
	AddressStreetAddress = "street_address"
)

// ValueType describes how a claim's string value should be interpreted.
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeInteger ValueType = "integer"
	ValueTypeJSON    ValueType = "json"
)

// Claim is a single statement about the subject.
type Claim struct {
	Type      string
	Value     string
	ValueType ValueType
	// Destinations is computed when a ticket is assembled, and is never
	// persisted.
	Destinations []Destination
}

// NewClaim returns a string valued claim.
func NewClaim(typ, value string) Claim {
	return Claim{Type: typ, Value: value, ValueType: ValueTypeString}
}

// HasDestination returns true if the claim should be embedded in the given
// token type.
func (c Claim) HasDestination(d Destination) bool {
	for _, cd := range c.Destinations {
		if cd == d {
			return true
		}
	}
	return false
}

// Identity is an ordered set of claims, tagged with the scheme that
// authenticated it. Claim types are not required to be unique.
type Identity struct {
	Scheme string
	Claims []Claim
}

// FindFirst returns the first claim of the given type.
func (i *Identity) FindFirst(typ string) (Claim, bool) {
	if i == nil {
		return Claim{}, false
	}
	for _, c := range i.Claims {
		if c.Type == typ {
			return c, true
		}
	}
	return Claim{}, false
}

// Value returns the value of the first claim of the given type, or an empty
// string.
func (i *Identity) Value(typ string) string {
	c, _ := i.FindFirst(typ)
	return c.Value
}

// Subject returns the sub claim's value.
func (i *Identity) Subject() string {
	return i.Value(ClaimSubject)
}

// Clone returns a deep copy of the identity.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	n := &Identity{
		Scheme: i.Scheme,
		Claims: make([]Claim, len(i.Claims)),
	}
	for idx, c := range i.Claims {
		if c.Destinations != nil {
			c.Destinations = append([]Destination(nil), c.Destinations...)
		}
		n.Claims[idx] = c
	}
	return n
}

// Filter returns a copy of the identity with only the claims routed to the
// given destination.
func (i *Identity) Filter(d Destination) *Identity {
	n := &Identity{Scheme: i.Scheme}
	for _, c := range i.Clone().Claims {
		if c.HasDestination(d) {
			n.Claims = append(n.Claims, c)
		}
	}
	return n
}
