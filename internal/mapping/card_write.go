package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jw6ventures/calstore/internal/extension"
	"github.com/jw6ventures/calstore/internal/multivalue"
	"github.com/jw6ventures/calstore/internal/scalar"
	"github.com/jw6ventures/calstore/internal/store"
)

// vCard property names with dedicated columns.
const (
	fieldVersion       = "VERSION"
	fieldUID           = "UID"
	fieldFormattedName = "FN"
	fieldName          = "N"
	fieldNickname      = "NICKNAME"
	fieldPhoto         = "PHOTO"
	fieldLogo          = "LOGO"
	fieldSound         = "SOUND"
	fieldBirthday      = "BDAY"
	fieldAnniversary   = "ANNIVERSARY"
	fieldRevision      = "REV"
	fieldTimeZone      = "TZ"
	fieldTitle         = "TITLE"
	fieldRole          = "ROLE"
	fieldOrg           = "ORG"
	fieldNote          = "NOTE"
	fieldCategories    = "CATEGORIES"
	fieldSortString    = "SORT-STRING"
	fieldClass         = "CLASS"
	fieldKind          = "KIND"
	fieldGender        = "GENDER"

	paramMediaType = "MEDIATYPE"
	paramValue     = "VALUE"

	defaultCardVersion = "3.0"
)

var supportedCardVersions = []string{"2.1", "3.0", "4.0"}

var (
	commonCardFields = []string{
		fieldUID, fieldFormattedName, fieldName, fieldNickname, fieldPhoto, fieldLogo, fieldSound,
		fieldBirthday, fieldRevision, fieldTimeZone, fieldTitle, fieldRole, fieldOrg, fieldNote, fieldCategories,
		multivalue.FieldEmail, multivalue.FieldAddress, multivalue.FieldMessenger, multivalue.FieldTelephone, multivalue.FieldURL,
	}
	v3CardFields = append(slices.Clone(commonCardFields), fieldSortString, fieldClass)
	v4CardFields = append(slices.Clone(commonCardFields), fieldKind, fieldGender, fieldAnniversary)

	repeatableCardFields = []string{
		fieldCategories, multivalue.FieldEmail, multivalue.FieldAddress, multivalue.FieldMessenger,
		multivalue.FieldTelephone, multivalue.FieldURL,
	}
)

// DecodeCard parses the first vCard in body. Bare vCard 2.1 parameters are
// read as TYPE values.
func DecodeCard(body []byte) (vcard.Card, error) {
	card, err := vcard.NewDecoder(bytes.NewReader(normalizeV21Params(body))).Decode()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: no VCARD object", ErrUnsupportedInput)
	}
	if err != nil {
		return nil, validation("VCARD", err)
	}
	return card, nil
}

// AssembleCard turns a parsed vCard into the rows of one card. Properties
// and parameters without columns are stored as extensions tagged with the
// writing client application.
func AssembleCard(card vcard.Card, wc WriteContext) (*store.CardRows, error) {
	if len(card) == 0 {
		return nil, fmt.Errorf("%w: empty vCard", ErrUnsupportedInput)
	}

	version := defaultCardVersion
	if f := firstField(card, fieldVersion); f != nil {
		version = strings.TrimSpace(f.Value)
	}
	if !slices.Contains(supportedCardVersions, version) {
		return nil, validation(fieldVersion, fmt.Errorf("unsupported vCard version %q", version))
	}

	uid := ""
	if f := firstField(card, fieldUID); f != nil {
		uid = strings.TrimSpace(f.Value)
	}
	if uid == "" {
		uid = wc.FallbackUID
	}
	if err := checkUID(uid); err != nil {
		return nil, err
	}

	w := &cardWriter{
		wc:   wc,
		seen: make(map[string]bool),
		card: store.Card{
			ID:            wc.newID(),
			AddressBookID: wc.ContainerID,
			UID:           uid,
			FileName:      wc.FileName,
			Version:       version,
			ETag:          wc.ETag,
			LastModified:  wc.Now,
		},
	}
	w.owner = multivalue.CardOwner{CardID: w.card.ID, UID: uid, Version: version, NewID: wc.newID}
	w.ext = extension.NewExtractor(w.card.ID)
	w.rows = &store.CardRows{ClientApp: wc.ClientApp}
	if version == "4.0" {
		w.mapped = v4CardFields
	} else {
		w.mapped = v3CardFields
	}

	for _, name := range sortedKeys(card) {
		for _, f := range card[name] {
			if err := w.field(strings.ToUpper(name), f); err != nil {
				return nil, validation(name, err)
			}
		}
	}
	w.finish()
	return w.rows, nil
}

func firstField(card vcard.Card, name string) *vcard.Field {
	fields := card[name]
	if len(fields) == 0 {
		return nil
	}
	return fields[0]
}

type cardWriter struct {
	wc     WriteContext
	card   store.Card
	owner  multivalue.CardOwner
	ext    *extension.Extractor
	rows   *store.CardRows
	mapped []string
	seen   map[string]bool
	resent []string

	v3         store.Version3Features
	v4         store.Version4Features
	categories []string

	emails, addresses, messengers, telephones, urls int
}

func (w *cardWriter) takes(name string) bool {
	if !slices.Contains(w.mapped, name) {
		return false
	}
	if slices.Contains(repeatableCardFields, name) {
		return true
	}
	if w.seen[name] {
		return false
	}
	w.seen[name] = true
	return true
}

func (w *cardWriter) field(name string, f *vcard.Field) error {
	composite := extension.CompositeName(f.Group, name)
	if !slices.Contains(w.resent, composite) {
		w.resent = append(w.resent, composite)
	}
	if name == fieldVersion {
		return nil
	}
	if extension.IsCustom(composite, true) || !w.takes(name) {
		w.ext.Custom(composite, f.Value, f.Params)
		return nil
	}

	var consumed []string
	c := &w.card
	switch name {
	case fieldUID:
	case fieldFormattedName:
		c.FormattedName = cardText(f.Value)
	case fieldName:
		parts := multivalue.SplitStructured(f.Value)
		for len(parts) < 5 {
			parts = append(parts, "")
		}
		c.FamilyName = optionalText(parts[0])
		c.GivenName = optionalText(parts[1])
		c.AdditionalNames = optionalText(parts[2])
		c.HonorificPrefix = optionalText(parts[3])
		c.HonorificSuffix = optionalText(strings.Join(parts[4:], ";"))
	case fieldNickname:
		c.Nickname = nonEmpty(f.Value)
	case fieldPhoto:
		c.Photo, c.PhotoType, consumed = w.media(f)
	case fieldLogo:
		c.Logo, c.LogoType, consumed = w.media(f)
	case fieldSound:
		c.Sound, c.SoundType, consumed = w.media(f)
	case fieldBirthday:
		if strings.EqualFold(f.Params.Get(paramValue), "text") {
			w.ext.Custom(name, f.Value, f.Params)
			return nil
		}
		d, err := scalar.ParseCardDate(f.Value)
		if err != nil {
			return err
		}
		bday := d.ToRelational()
		c.Birthday, c.BirthdayOmitYear = &bday, d.OmitYear
		consumed = []string{paramValue}
	case fieldAnniversary:
		d, err := scalar.ParseCardDate(f.Value)
		if err != nil || d.OmitYear || strings.EqualFold(f.Params.Get(paramValue), "text") {
			w.ext.Custom(name, f.Value, f.Params)
			return nil
		}
		at := d.ToRelational()
		w.v4.Anniversary = &at
		consumed = []string{paramValue}
	case fieldRevision:
		t, err := scalar.ParseTimestamp(f.Value)
		if err != nil {
			return err
		}
		c.Revision = &t
		consumed = []string{paramValue}
	case fieldTimeZone:
		c.TimeZone = nonEmpty(f.Value)
	case fieldTitle:
		c.Title = cardText(f.Value)
	case fieldRole:
		c.Role = cardText(f.Value)
	case fieldOrg:
		parts := multivalue.SplitStructured(f.Value)
		c.OrgName = optionalText(parts[0])
		if len(parts) > 1 {
			units := multivalue.JoinStructured(parts[1:]...)
			c.OrgUnits = &units
		}
	case fieldNote:
		c.Note = cardText(f.Value)
	case fieldCategories:
		w.categories = append(w.categories, f.Value)
	case fieldSortString:
		w.v3.SortString = cardText(f.Value)
	case fieldClass:
		w.v3.Class = nonEmpty(f.Value)
	case fieldKind:
		kind, err := scalar.CardKind.Normalize(f.Value)
		if err != nil {
			return err
		}
		kind = strings.ToLower(kind)
		w.v4.Kind = &kind
	case fieldGender:
		parts := multivalue.SplitStructured(f.Value)
		w.v4.GenderSex = optionalText(strings.ToUpper(parts[0]))
		if len(parts) > 1 {
			w.v4.GenderIdentity = optionalText(strings.Join(parts[1:], ";"))
		}
	case multivalue.FieldEmail:
		return w.email(f)
	case multivalue.FieldAddress:
		return w.address(f)
	case multivalue.FieldMessenger:
		return w.messenger(f)
	case multivalue.FieldTelephone:
		return w.telephone(f)
	case multivalue.FieldURL:
		return w.url(f)
	}
	w.ext.Mapped(name, f.Params, consumed...)
	return nil
}

// media reads PHOTO, LOGO and SOUND. The media type comes from TYPE before
// 4.0 and from MEDIATYPE in 4.0.
func (w *cardWriter) media(f *vcard.Field) (*string, *string, []string) {
	typeParam := multivalue.ParamType
	if w.card.Version == "4.0" {
		typeParam = paramMediaType
	}
	return nonEmpty(f.Value), nonEmpty(f.Params.Get(typeParam)), []string{typeParam}
}

func (w *cardWriter) email(f *vcard.Field) error {
	row, err := multivalue.Email(f, w.owner, w.emails)
	if err != nil {
		return err
	}
	w.emails++
	w.rows.Emails = append(w.rows.Emails, row)
	w.child(row.ID, multivalue.FieldEmail, f, multivalue.CardChildParams)
	return nil
}

func (w *cardWriter) address(f *vcard.Field) error {
	row, err := multivalue.Address(f, w.owner, w.addresses)
	if err != nil {
		return err
	}
	w.addresses++
	w.rows.Addresses = append(w.rows.Addresses, row)
	w.child(row.ID, multivalue.FieldAddress, f, multivalue.AddressParams)
	return nil
}

func (w *cardWriter) messenger(f *vcard.Field) error {
	row, err := multivalue.Messenger(f, w.owner, w.messengers)
	if err != nil {
		return err
	}
	w.messengers++
	w.rows.Messengers = append(w.rows.Messengers, row)
	w.child(row.ID, multivalue.FieldMessenger, f, multivalue.CardChildParams)
	return nil
}

func (w *cardWriter) telephone(f *vcard.Field) error {
	row, err := multivalue.Telephone(f, w.owner, w.telephones)
	if err != nil {
		return err
	}
	w.telephones++
	w.rows.Telephones = append(w.rows.Telephones, row)
	w.child(row.ID, multivalue.FieldTelephone, f, multivalue.CardChildParams)
	return nil
}

func (w *cardWriter) url(f *vcard.Field) error {
	row, err := multivalue.URL(f, w.owner, w.urls)
	if err != nil {
		return err
	}
	w.urls++
	w.rows.URLs = append(w.rows.URLs, row)
	w.child(row.ID, multivalue.FieldURL, f, multivalue.CardChildParams)
	return nil
}

func (w *cardWriter) child(parent uuid.UUID, name string, f *vcard.Field, consumed []string) {
	x := extension.NewExtractor(parent)
	x.Mapped(name, f.Params, consumed...)
	w.rows.Extensions = append(w.rows.Extensions, w.extensions(x.Rows())...)
}

func (w *cardWriter) finish() {
	c := &w.card
	c.Categories = multivalue.JoinGroups(w.categories)
	if c.Version == "4.0" {
		c.V4 = mo.Some(w.v4)
	} else {
		c.V3 = mo.Some(w.v3)
	}
	w.rows.Cards = append(w.rows.Cards, *c)
	w.rows.Extensions = append(w.rows.Extensions, w.extensions(w.ext.Rows())...)
	slices.Sort(w.resent)
	w.rows.ResentProperties = w.resent
}

func (w *cardWriter) extensions(rows []extension.Row) []store.CardExtension {
	out := make([]store.CardExtension, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.CardExtension{
			CardID:        w.card.ID,
			ParentID:      r.ParentID,
			UID:           w.card.UID,
			ClientAppName: w.wc.ClientApp,
			PropertyName:  r.PropertyName,
			ParameterName: r.ParameterName,
			Value:         r.Value,
			SortIndex:     r.SortIndex,
		})
	}
	return out
}

func cardText(raw string) *string {
	return optionalText(scalar.UnescapeText(raw))
}

func optionalText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
