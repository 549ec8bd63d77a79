package multivalue

import (
	"strings"

	"github.com/emersion/go-vcard"

	"github.com/jw6ventures/calstore/internal/scalar"
	"github.com/jw6ventures/calstore/internal/store"
)

// vCard property and parameter names handled here.
const (
	FieldEmail     = "EMAIL"
	FieldAddress   = "ADR"
	FieldMessenger = "IMPP"
	FieldTelephone = "TEL"
	FieldURL       = "URL"

	ParamType  = "TYPE"
	ParamPref  = "PREF"
	ParamLabel = "LABEL"

	typePref = "pref"
)

// Parameters consumed by card child columns.
var (
	CardChildParams = []string{ParamType, ParamPref}
	AddressParams   = []string{ParamType, ParamPref, ParamLabel}
)

// Email decodes an EMAIL field.
func Email(field *vcard.Field, owner CardOwner, sortIndex int) (store.Email, error) {
	types, pref, err := decodeTypes(field.Params, owner.Version)
	if err != nil {
		return store.Email{}, err
	}
	address := strings.TrimSpace(field.Value)
	if address == "" {
		return store.Email{}, &scalar.ValueError{Value: field.Value, Reason: "empty email"}
	}
	return store.Email{
		ID:        owner.NewID(),
		CardID:    owner.CardID,
		UID:       owner.UID,
		Address:   address,
		Types:     types,
		PrefLevel: pref,
		SortIndex: sortIndex,
	}, nil
}

// EmailField renders an email row.
func EmailField(row store.Email, version string) *vcard.Field {
	return typedField(row.Address, row.Types, row.PrefLevel, version)
}

// Address decodes an ADR field into its seven components.
func Address(field *vcard.Field, owner CardOwner, sortIndex int) (store.Address, error) {
	types, pref, err := decodeTypes(field.Params, owner.Version)
	if err != nil {
		return store.Address{}, err
	}
	parts := SplitStructured(field.Value)
	for len(parts) < 7 {
		parts = append(parts, "")
	}
	if len(parts) > 7 {
		parts[6] = strings.Join(parts[6:], ";")
	}
	return store.Address{
		ID:         owner.NewID(),
		CardID:     owner.CardID,
		UID:        owner.UID,
		POBox:      optional(parts[0]),
		Extended:   optional(parts[1]),
		Street:     optional(parts[2]),
		Locality:   optional(parts[3]),
		Region:     optional(parts[4]),
		PostalCode: optional(parts[5]),
		Country:    optional(parts[6]),
		Label:      firstParam(field.Params[ParamLabel]),
		Types:      types,
		PrefLevel:  pref,
		SortIndex:  sortIndex,
	}, nil
}

// AddressField renders an address row.
func AddressField(row store.Address, version string) *vcard.Field {
	value := JoinStructured(deref(row.POBox), deref(row.Extended), deref(row.Street), deref(row.Locality),
		deref(row.Region), deref(row.PostalCode), deref(row.Country))
	field := typedField(value, row.Types, row.PrefLevel, version)
	if row.Label != nil {
		field.Params[ParamLabel] = []string{*row.Label}
	}
	return field
}

// Messenger decodes an IMPP field.
func Messenger(field *vcard.Field, owner CardOwner, sortIndex int) (store.InstantMessenger, error) {
	types, pref, err := decodeTypes(field.Params, owner.Version)
	if err != nil {
		return store.InstantMessenger{}, err
	}
	uri := strings.TrimSpace(field.Value)
	if uri == "" {
		return store.InstantMessenger{}, &scalar.ValueError{Value: field.Value, Reason: "empty messenger"}
	}
	return store.InstantMessenger{
		ID:        owner.NewID(),
		CardID:    owner.CardID,
		UID:       owner.UID,
		URI:       uri,
		Types:     types,
		PrefLevel: pref,
		SortIndex: sortIndex,
	}, nil
}

// MessengerField renders a messenger row.
func MessengerField(row store.InstantMessenger, version string) *vcard.Field {
	return typedField(row.URI, row.Types, row.PrefLevel, version)
}

// Telephone decodes a TEL field.
func Telephone(field *vcard.Field, owner CardOwner, sortIndex int) (store.Telephone, error) {
	types, pref, err := decodeTypes(field.Params, owner.Version)
	if err != nil {
		return store.Telephone{}, err
	}
	number := strings.TrimSpace(field.Value)
	if number == "" {
		return store.Telephone{}, &scalar.ValueError{Value: field.Value, Reason: "empty telephone"}
	}
	return store.Telephone{
		ID:        owner.NewID(),
		CardID:    owner.CardID,
		UID:       owner.UID,
		Number:    number,
		Types:     types,
		PrefLevel: pref,
		SortIndex: sortIndex,
	}, nil
}

// TelephoneField renders a telephone row.
func TelephoneField(row store.Telephone, version string) *vcard.Field {
	return typedField(row.Number, row.Types, row.PrefLevel, version)
}

// URL decodes a URL field.
func URL(field *vcard.Field, owner CardOwner, sortIndex int) (store.URL, error) {
	types, pref, err := decodeTypes(field.Params, owner.Version)
	if err != nil {
		return store.URL{}, err
	}
	address := strings.TrimSpace(field.Value)
	if address == "" {
		return store.URL{}, &scalar.ValueError{Value: field.Value, Reason: "empty url"}
	}
	return store.URL{
		ID:        owner.NewID(),
		CardID:    owner.CardID,
		UID:       owner.UID,
		Address:   address,
		Types:     types,
		PrefLevel: pref,
		SortIndex: sortIndex,
	}, nil
}

// URLField renders a URL row.
func URLField(row store.URL, version string) *vcard.Field {
	return typedField(row.Address, row.Types, row.PrefLevel, version)
}

// decodeTypes reads the TYPE list and preference. vCard 4.0 carries the
// preference as PREF=1..100; older versions use TYPE=pref, read as level 1.
func decodeTypes(params vcard.Params, version string) (*string, *int, error) {
	var types []string
	var pref *int
	for _, raw := range params[ParamType] {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if strings.EqualFold(t, typePref) {
				level := 1
				pref = &level
				continue
			}
			types = append(types, t)
		}
	}
	if v := firstParam(params[ParamPref]); v != nil {
		level, err := scalar.ParseInt(*v, 1, 100)
		if err != nil {
			return nil, nil, err
		}
		pref = &level
	}
	return JoinList(types), pref, nil
}

func typedField(value string, types *string, pref *int, version string) *vcard.Field {
	field := &vcard.Field{Value: value, Params: make(vcard.Params)}
	list := SplitList(types)
	if pref != nil {
		if version == "4.0" {
			field.Params[ParamPref] = []string{itoa(*pref)}
		} else {
			list = append(list, typePref)
		}
	}
	if len(list) > 0 {
		field.Params[ParamType] = list
	}
	return field
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
