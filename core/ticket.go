package core

// SchemeOIDCServer is the scheme assembled tickets are issued under.
const SchemeOIDCServer = "ASOS"

// GrantKind is the exchange a ticket is being assembled for.
type GrantKind int

const (
	// GrantAuthorization is a new grant from the authorization endpoint,
	// covering both the code and implicit flows.
	GrantAuthorization GrantKind = iota + 1
	// GrantCodeExchange redeems an authorization code at the token endpoint.
	GrantCodeExchange
	// GrantRefreshExchange redeems a refresh token at the token endpoint.
	GrantRefreshExchange
)

func (g GrantKind) String() string {
	switch g {
	case GrantAuthorization:
		return "authorization"
	case GrantCodeExchange:
		return "authorization_code"
	case GrantRefreshExchange:
		return "refresh_token"
	default:
		return "unknown"
	}
}

// Ticket is the identity, scopes and properties a token is issued for.
type Ticket struct {
	Identity *Identity
	Scopes   Scopes
	// Properties is opaque metadata that follows the grant through code and
	// refresh exchanges.
	Properties map[string]string
	Scheme     string
}

// Property returns the named property, or an empty string.
func (t *Ticket) Property(key string) string {
	if t == nil || t.Properties == nil {
		return ""
	}
	return t.Properties[key]
}

// Clone returns a deep copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	n := &Ticket{
		Identity: t.Identity.Clone(),
		Scopes:   append(Scopes{}, t.Scopes...),
		Scheme:   t.Scheme,
	}
	if t.Properties != nil {
		n.Properties = make(map[string]string, len(t.Properties))
		for k, v := range t.Properties {
			n.Properties[k] = v
		}
	}
	return n
}

// AssembleRequest holds the inputs for building a ticket.
type AssembleRequest struct {
	Grant GrantKind
	// Identity is the authenticated principal's identity. For exchanges this
	// is usually the identity stored with the prior ticket.
	Identity *Identity
	// Prior is the ticket the presented code or refresh token was issued
	// for. Required for exchanges.
	Prior *Ticket
	// RequestedScopes and SupportedScopes are only used for new grants.
	RequestedScopes Scopes
	SupportedScopes Scopes
	// ExtraClaims are appended to the identity before routing.
	ExtraClaims []Claim
}

// Assemble builds a new ticket, with destinations attached to every claim.
// Neither the passed identity nor the prior ticket are modified.
func Assemble(req AssembleRequest) (*Ticket, error) {
	t := &Ticket{Scheme: SchemeOIDCServer}

	switch req.Grant {
	case GrantAuthorization:
		t.Scopes = ResolveScopes(req.RequestedScopes, req.SupportedScopes)
		t.Properties = map[string]string{}
	case GrantCodeExchange, GrantRefreshExchange:
		if req.Prior == nil {
			return nil, ErrMissingGrantContext
		}
		prior := req.Prior.Clone()
		t.Scopes = prior.Scopes
		t.Properties = prior.Properties
		if t.Properties == nil {
			t.Properties = map[string]string{}
		}
	default:
		return nil, &UnsupportedGrantError{Grant: req.Grant}
	}

	ident := req.Identity.Clone()
	if ident == nil {
		ident = &Identity{}
	}
	ident.Scheme = SchemeOIDCServer
	ident.Claims = append(ident.Claims, req.ExtraClaims...)

	for i := range ident.Claims {
		ident.Claims[i].Destinations = Destinations(ident.Claims[i].Type, t.Scopes)
	}
	t.Identity = ident

	return t, nil
}
