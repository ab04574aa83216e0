package oidcserver

import (
	"encoding/base64"
	"fmt"
	"time"

	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/pardot/oidc-compliance/core"
)

// grantToPB serializes a grant for storage. Claim destinations are not
// stored, they are routed again when the grant is exchanged.
func grantToPB(g *grant) (*structpb.Struct, error) {
	m := map[string]interface{}{
		"hash":      base64.StdEncoding.EncodeToString(g.Hash),
		"client_id": g.ClientID,
		"origin":    g.Origin,
		"redeemed":  g.Redeemed,
		"expires":   g.Expires.UTC().Format(time.RFC3339Nano),
		"ticket":    ticketToGo(g.Ticket),
	}
	return goToPBStruct(m)
}

func grantFromPB(st *structpb.Struct) (*grant, error) {
	m, err := pbstructToGo(st)
	if err != nil {
		return nil, err
	}

	g := &grant{
		ClientID: stringField(m, "client_id"),
		Origin:   stringField(m, "origin"),
	}
	g.Redeemed, _ = m["redeemed"].(bool)

	if g.Hash, err = base64.StdEncoding.DecodeString(stringField(m, "hash")); err != nil {
		return nil, fmt.Errorf("decoding hash: %w", err)
	}
	if g.Expires, err = time.Parse(time.RFC3339Nano, stringField(m, "expires")); err != nil {
		return nil, fmt.Errorf("parsing expiry: %w", err)
	}

	tm, ok := m["ticket"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("grant has no ticket")
	}
	if g.Ticket, err = ticketFromGo(tm); err != nil {
		return nil, err
	}

	return g, nil
}

func ticketToGo(t *core.Ticket) map[string]interface{} {
	claims := []interface{}{}
	for _, c := range t.Identity.Claims {
		claims = append(claims, map[string]interface{}{
			"type":       c.Type,
			"value":      c.Value,
			"value_type": string(c.ValueType),
		})
	}
	props := map[string]interface{}{}
	for k, v := range t.Properties {
		props[k] = v
	}
	return map[string]interface{}{
		"scheme":          t.Scheme,
		"identity_scheme": t.Identity.Scheme,
		"scopes":          []string(t.Scopes),
		"properties":      props,
		"claims":          claims,
	}
}

func ticketFromGo(m map[string]interface{}) (*core.Ticket, error) {
	t := &core.Ticket{
		Scheme:     stringField(m, "scheme"),
		Properties: map[string]string{},
		Identity:   &core.Identity{Scheme: stringField(m, "identity_scheme")},
	}

	scopes, _ := m["scopes"].([]interface{})
	for _, s := range scopes {
		ss, ok := s.(string)
		if !ok {
			return nil, fmt.Errorf("scope of type %T is not a string", s)
		}
		t.Scopes = append(t.Scopes, ss)
	}

	props, _ := m["properties"].(map[string]interface{})
	for k, v := range props {
		vs, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("property %s of type %T is not a string", k, v)
		}
		t.Properties[k] = vs
	}

	claims, _ := m["claims"].([]interface{})
	for _, c := range claims {
		cm, ok := c.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("claim of type %T is not an object", c)
		}
		t.Identity.Claims = append(t.Identity.Claims, core.Claim{
			Type:      stringField(cm, "type"),
			Value:     stringField(cm, "value"),
			ValueType: core.ValueType(stringField(cm, "value_type")),
		})
	}

	return t, nil
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func pbstructToGo(strct *structpb.Struct) (map[string]interface{}, error) {
	ret := make(map[string]interface{})
	for k, v := range strct.Fields {
		r, err := pbvalueToGo(v)
		if err != nil {
			return nil, err
		}
		ret[k] = r
	}
	return ret, nil
}

func pbvalueToGo(val *structpb.Value) (interface{}, error) {
	switch kind := val.Kind.(type) {
	case *structpb.Value_BoolValue:
		return kind.BoolValue, nil
	case *structpb.Value_StringValue:
		return kind.StringValue, nil
	case *structpb.Value_NumberValue:
		return kind.NumberValue, nil
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_ListValue:
		ret := []interface{}{}
		for _, v := range kind.ListValue.Values {
			r, err := pbvalueToGo(v)
			if err != nil {
				return nil, err
			}
			ret = append(ret, r)
		}
		return ret, nil
	case *structpb.Value_StructValue:
		return pbstructToGo(kind.StructValue)
	}
	return nil, fmt.Errorf("struct value %T is of unhandled kind", val.Kind)
}

func goToPBStruct(m map[string]interface{}) (*structpb.Struct, error) {
	ret := &structpb.Struct{
		Fields: map[string]*structpb.Value{},
	}
	for k, v := range m {
		pbv, err := goToPBValue(v)
		if err != nil {
			return nil, err
		}
		ret.Fields[k] = pbv
	}
	return ret, nil
}

func goToPBValue(g interface{}) (*structpb.Value, error) {
	switch gt := g.(type) {
	case nil:
		return &structpb.Value{Kind: &structpb.Value_NullValue{}}, nil
	case string:
		return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: gt}}, nil
	case int64:
		return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: float64(gt)}}, nil
	case float64:
		return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: gt}}, nil
	case bool:
		return &structpb.Value{Kind: &structpb.Value_BoolValue{BoolValue: gt}}, nil
	case []string:
		lv := &structpb.ListValue{}
		for _, v := range gt {
			lv.Values = append(lv.Values, &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: v}})
		}
		return &structpb.Value{Kind: &structpb.Value_ListValue{ListValue: lv}}, nil
	case []interface{}:
		lv := &structpb.ListValue{}
		for _, v := range gt {
			pbv, err := goToPBValue(v)
			if err != nil {
				return nil, err
			}
			lv.Values = append(lv.Values, pbv)
		}
		return &structpb.Value{Kind: &structpb.Value_ListValue{ListValue: lv}}, nil
	case map[string]interface{}:
		s, err := goToPBStruct(gt)
		if err != nil {
			return nil, err
		}
		return &structpb.Value{Kind: &structpb.Value_StructValue{StructValue: s}}, nil
	}
	return nil, fmt.Errorf("map value of %T is unhandled", g)
}
