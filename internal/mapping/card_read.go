package mapping

import (
	"bytes"

	"github.com/emersion/go-vcard"
	"github.com/google/uuid"

	"github.com/jw6ventures/calstore/internal/extension"
	"github.com/jw6ventures/calstore/internal/multivalue"
	"github.com/jw6ventures/calstore/internal/scalar"
	"github.com/jw6ventures/calstore/internal/store"
)

// MaterializedCard pairs a stored card with its rebuilt vCard.
type MaterializedCard struct {
	Card  store.Card
	VCard vcard.Card
}

type cardIndex struct {
	emails     map[uuid.UUID][]store.Email
	addresses  map[uuid.UUID][]store.Address
	messengers map[uuid.UUID][]store.InstantMessenger
	telephones map[uuid.UUID][]store.Telephone
	urls       map[uuid.UUID][]store.URL
	extensions map[uuid.UUID][]extension.Row
}

func indexCardRows(rows *store.CardRows) *cardIndex {
	idx := &cardIndex{
		emails:     groupBy(rows.Emails, func(e store.Email) uuid.UUID { return e.CardID }),
		addresses:  groupBy(rows.Addresses, func(a store.Address) uuid.UUID { return a.CardID }),
		messengers: groupBy(rows.Messengers, func(m store.InstantMessenger) uuid.UUID { return m.CardID }),
		telephones: groupBy(rows.Telephones, func(t store.Telephone) uuid.UUID { return t.CardID }),
		urls:       groupBy(rows.URLs, func(u store.URL) uuid.UUID { return u.CardID }),
		extensions: make(map[uuid.UUID][]extension.Row),
	}
	for _, e := range rows.Extensions {
		idx.extensions[e.ParentID] = append(idx.extensions[e.ParentID], extension.Row{
			ParentID:      e.ParentID,
			PropertyName:  e.PropertyName,
			ParameterName: e.ParameterName,
			Value:         e.Value,
			SortIndex:     e.SortIndex,
		})
	}
	return idx
}

// MaterializeCards rebuilds one vCard per stored card, formatted for the
// version the card was written with.
func MaterializeCards(rows *store.CardRows) []MaterializedCard {
	if rows == nil {
		return nil
	}
	idx := indexCardRows(rows)
	out := make([]MaterializedCard, 0, len(rows.Cards))
	for _, c := range rows.Cards {
		out = append(out, MaterializedCard{Card: c, VCard: materializeCard(c, idx)})
	}
	return out
}

func materializeCard(c store.Card, idx *cardIndex) vcard.Card {
	card := make(vcard.Card)
	version := c.Version
	if version == "" {
		version = defaultCardVersion
	}
	addField(card, fieldVersion, version)
	addField(card, fieldUID, c.UID)

	addCardText(card, fieldFormattedName, c.FormattedName)
	if c.FamilyName != nil || c.GivenName != nil || c.AdditionalNames != nil || c.HonorificPrefix != nil || c.HonorificSuffix != nil {
		addField(card, fieldName, multivalue.JoinStructured(deref(c.FamilyName), deref(c.GivenName),
			deref(c.AdditionalNames), deref(c.HonorificPrefix), deref(c.HonorificSuffix)))
	}
	addOptional(card, fieldNickname, c.Nickname)
	addMedia(card, fieldPhoto, c.Photo, c.PhotoType, version)
	addMedia(card, fieldLogo, c.Logo, c.LogoType, version)
	addMedia(card, fieldSound, c.Sound, c.SoundType, version)
	if c.Birthday != nil {
		addField(card, fieldBirthday, scalar.CardDateFromRelational(*c.Birthday, c.BirthdayOmitYear).Format(version))
	}
	if c.Revision != nil {
		addField(card, fieldRevision, scalar.FormatTimestamp(*c.Revision))
	}
	addOptional(card, fieldTimeZone, c.TimeZone)
	addCardText(card, fieldTitle, c.Title)
	addCardText(card, fieldRole, c.Role)
	if c.OrgName != nil || c.OrgUnits != nil {
		org := scalar.EscapeText(deref(c.OrgName))
		if c.OrgUnits != nil {
			org += ";" + *c.OrgUnits
		}
		addField(card, fieldOrg, org)
	}
	addCardText(card, fieldNote, c.Note)
	for _, group := range multivalue.SplitGroups(c.Categories) {
		addField(card, fieldCategories, group)
	}

	if v3, ok := c.V3.Get(); ok {
		addCardText(card, fieldSortString, v3.SortString)
		addOptional(card, fieldClass, v3.Class)
	}
	if v4, ok := c.V4.Get(); ok {
		addOptional(card, fieldKind, v4.Kind)
		if v4.GenderSex != nil || v4.GenderIdentity != nil {
			gender := deref(v4.GenderSex)
			if v4.GenderIdentity != nil {
				gender += ";" + scalar.EscapeText(*v4.GenderIdentity)
			}
			addField(card, fieldGender, gender)
		}
		if v4.Anniversary != nil {
			addField(card, fieldAnniversary, scalar.CardDateFromRelational(*v4.Anniversary, false).Format(version))
		}
	}

	applyVCard(card, idx.extensions[c.ID])

	emails := idx.emails[c.ID]
	multivalue.SortBy(emails, func(e store.Email) int { return e.SortIndex })
	for _, e := range emails {
		addChildField(card, multivalue.FieldEmail, multivalue.EmailField(e, version), idx.extensions[e.ID])
	}
	addresses := idx.addresses[c.ID]
	multivalue.SortBy(addresses, func(a store.Address) int { return a.SortIndex })
	for _, a := range addresses {
		addChildField(card, multivalue.FieldAddress, multivalue.AddressField(a, version), idx.extensions[a.ID])
	}
	messengers := idx.messengers[c.ID]
	multivalue.SortBy(messengers, func(m store.InstantMessenger) int { return m.SortIndex })
	for _, m := range messengers {
		addChildField(card, multivalue.FieldMessenger, multivalue.MessengerField(m, version), idx.extensions[m.ID])
	}
	telephones := idx.telephones[c.ID]
	multivalue.SortBy(telephones, func(t store.Telephone) int { return t.SortIndex })
	for _, t := range telephones {
		addChildField(card, multivalue.FieldTelephone, multivalue.TelephoneField(t, version), idx.extensions[t.ID])
	}
	urls := idx.urls[c.ID]
	multivalue.SortBy(urls, func(u store.URL) int { return u.SortIndex })
	for _, u := range urls {
		addChildField(card, multivalue.FieldURL, multivalue.URLField(u, version), idx.extensions[u.ID])
	}
	return card
}

// applyVCard adds custom fields, restoring vCard groups from composite
// names, and merges stored parameters into fields rebuilt from columns.
func applyVCard(card vcard.Card, rows []extension.Row) {
	for _, p := range extension.Collect(rows) {
		group, name := extension.SplitComposite(p.Name)
		if p.Value != nil {
			card[name] = append(card[name], &vcard.Field{Value: *p.Value, Params: vcard.Params(p.Params), Group: group})
			continue
		}
		generated := card[name]
		if len(generated) == 0 {
			continue
		}
		target := generated[min(p.SortIndex, len(generated)-1)]
		if target.Params == nil {
			target.Params = make(vcard.Params)
		}
		extension.MergeParams(target.Params, p.Params)
	}
}

func addChildField(card vcard.Card, name string, f *vcard.Field, rows []extension.Row) {
	if len(rows) > 0 {
		one := vcard.Card{name: {f}}
		applyVCard(one, rows)
	}
	card[name] = append(card[name], f)
}

func addField(card vcard.Card, name, value string) {
	card[name] = append(card[name], &vcard.Field{Value: value, Params: make(vcard.Params)})
}

func addOptional(card vcard.Card, name string, value *string) {
	if value != nil {
		addField(card, name, *value)
	}
}

func addCardText(card vcard.Card, name string, value *string) {
	if value != nil {
		addField(card, name, scalar.EscapeText(*value))
	}
}

func addMedia(card vcard.Card, name string, value, mediaType *string, version string) {
	if value == nil {
		return
	}
	f := &vcard.Field{Value: *value, Params: make(vcard.Params)}
	if mediaType != nil {
		if version == "4.0" {
			f.Params[paramMediaType] = []string{*mediaType}
		} else {
			f.Params[multivalue.ParamType] = []string{*mediaType}
		}
	}
	card[name] = append(card[name], f)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// EncodeCards renders cards as concatenated vCard text.
func EncodeCards(cards ...vcard.Card) ([]byte, error) {
	var buf bytes.Buffer
	enc := vcard.NewEncoder(&buf)
	for _, card := range cards {
		if err := enc.Encode(card); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
