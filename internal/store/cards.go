package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/mo"

	"github.com/jw6ventures/calstore/internal/extension"
	"github.com/jw6ventures/calstore/internal/metrics"
)

// cardRepo implements CardRepository.
type cardRepo struct {
	pool pgxPool
}

const (
	cardColumns = `o.id, o.address_book_id, o.uid, o.file_name, o.version, o.etag, o.last_modified,
o.formatted_name, o.family_name, o.given_name, o.additional_names, o.honorific_prefix, o.honorific_suffix, o.nickname,
o.photo, o.photo_type, o.logo, o.logo_type, o.sound, o.sound_type,
o.birthday, o.birthday_omit_year, o.revision, o.time_zone,
o.title, o.role, o.org_name, o.org_units, o.categories, o.note,
o.sort_string, o.class, o.kind, o.gender_sex, o.gender_identity, o.anniversary`

	emailColumns     = `t.id, t.card_id, t.uid, t.address, t.types, t.pref_level, t.sort_index`
	addressColumns   = `t.id, t.card_id, t.uid, t.po_box, t.extended, t.street, t.locality, t.region, t.postal_code, t.country, t.label, t.types, t.pref_level, t.sort_index`
	messengerColumns = `t.id, t.card_id, t.uid, t.uri, t.types, t.pref_level, t.sort_index`
	telephoneColumns = `t.id, t.card_id, t.uid, t.number, t.types, t.pref_level, t.sort_index`
	urlColumns       = `t.id, t.card_id, t.uid, t.address, t.types, t.pref_level, t.sort_index`
	cardExtColumns   = `t.id, t.card_id, t.parent_id, t.uid, t.client_app_name, t.property_name, t.parameter_name, t.value, t.sort_index`
)

var cardChildTables = []string{"card_emails", "card_addresses", "card_messengers", "card_telephones", "card_urls"}

func (r *cardRepo) Save(ctx context.Context, userID int64, rows *CardRows, scope extension.PurgeScope) (bool, error) {
	defer observeDB(ctx, "cards.save")()
	if len(rows.Cards) != 1 {
		return false, fmt.Errorf("save expects one card, got %d", len(rows.Cards))
	}
	card := rows.Cards[0]

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin card save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := checkWritable(ctx, tx, addressBookAccess, card.AddressBookID, userID); err != nil {
		return false, err
	}
	var existing uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM cards WHERE address_book_id=$1 AND uid=$2 FOR UPDATE`,
		card.AddressBookID, card.UID).Scan(&existing)
	created := errors.Is(err, pgx.ErrNoRows)
	if err != nil && !created {
		return false, fmt.Errorf("lookup card %s: %w", card.UID, err)
	}

	if created {
		_, err = tx.Exec(ctx, `INSERT INTO cards (`+insertCardColumns+`) VALUES (`+placeholders(36)+`)`, cardArgs(card)...)
		if err != nil {
			return false, fmt.Errorf("insert card %s: %w", card.UID, err)
		}
	} else {
		rebindCard(rows, card.ID, existing)
		card = rows.Cards[0]
		_, err = tx.Exec(ctx, `UPDATE cards SET (`+insertCardColumns+`) = (`+placeholders(36)+`) WHERE id=$1`, cardArgs(card)...)
		if err != nil {
			return false, fmt.Errorf("update card %s: %w", card.UID, err)
		}
	}
	scope.CardID = card.ID

	batch := &pgx.Batch{}
	if !created {
		batch.Queue(`DELETE FROM card_extensions WHERE card_id=$1
AND (parent_id <> $1 OR client_app_name IS NULL OR client_app_name = $2 OR property_name = ANY($3))`,
			card.ID, scope.ClientApp, scope.ResentProperties)
		for _, table := range cardChildTables {
			batch.Queue(`DELETE FROM `+table+` WHERE card_id=$1`, card.ID)
		}
	}
	queueCardInserts(batch, rows)
	if err := execBatch(ctx, tx, batch); err != nil {
		return false, fmt.Errorf("write card %s: %w", card.UID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit card %s: %w", card.UID, err)
	}

	metrics.ObserveRowsWritten("card_emails", len(rows.Emails))
	metrics.ObserveRowsWritten("card_addresses", len(rows.Addresses))
	metrics.ObserveRowsWritten("card_messengers", len(rows.Messengers))
	metrics.ObserveRowsWritten("card_telephones", len(rows.Telephones))
	metrics.ObserveRowsWritten("card_urls", len(rows.URLs))
	metrics.ObserveExtensionsWritten("card", len(rows.Extensions))
	return created, nil
}

const insertCardColumns = `id, address_book_id, uid, file_name, version, etag, last_modified,
formatted_name, family_name, given_name, additional_names, honorific_prefix, honorific_suffix, nickname,
photo, photo_type, logo, logo_type, sound, sound_type,
birthday, birthday_omit_year, revision, time_zone,
title, role, org_name, org_units, categories, note,
sort_string, class, kind, gender_sex, gender_identity, anniversary`

func cardArgs(c Card) []any {
	v3 := c.V3.OrEmpty()
	v4 := c.V4.OrEmpty()
	return []any{
		c.ID, c.AddressBookID, c.UID, c.FileName, c.Version, c.ETag, c.LastModified,
		c.FormattedName, c.FamilyName, c.GivenName, c.AdditionalNames, c.HonorificPrefix, c.HonorificSuffix, c.Nickname,
		c.Photo, c.PhotoType, c.Logo, c.LogoType, c.Sound, c.SoundType,
		c.Birthday, c.BirthdayOmitYear, c.Revision, c.TimeZone,
		c.Title, c.Role, c.OrgName, c.OrgUnits, c.Categories, c.Note,
		v3.SortString, v3.Class, v4.Kind, v4.GenderSex, v4.GenderIdentity, v4.Anniversary,
	}
}

// placeholders renders "$1, ..., $n".
func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(i+1)
	}
	return strings.Join(parts, ", ")
}

func rebindCard(rows *CardRows, from, to uuid.UUID) {
	for i := range rows.Cards {
		if rows.Cards[i].ID == from {
			rows.Cards[i].ID = to
		}
	}
	for i := range rows.Emails {
		if rows.Emails[i].CardID == from {
			rows.Emails[i].CardID = to
		}
	}
	for i := range rows.Addresses {
		if rows.Addresses[i].CardID == from {
			rows.Addresses[i].CardID = to
		}
	}
	for i := range rows.Messengers {
		if rows.Messengers[i].CardID == from {
			rows.Messengers[i].CardID = to
		}
	}
	for i := range rows.Telephones {
		if rows.Telephones[i].CardID == from {
			rows.Telephones[i].CardID = to
		}
	}
	for i := range rows.URLs {
		if rows.URLs[i].CardID == from {
			rows.URLs[i].CardID = to
		}
	}
	for i := range rows.Extensions {
		if rows.Extensions[i].CardID == from {
			rows.Extensions[i].CardID = to
		}
		if rows.Extensions[i].ParentID == from {
			rows.Extensions[i].ParentID = to
		}
	}
}

func queueCardInserts(b *pgx.Batch, rows *CardRows) {
	for _, e := range rows.Emails {
		b.Queue(`INSERT INTO card_emails (id, card_id, uid, address, types, pref_level, sort_index)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, e.ID, e.CardID, e.UID, e.Address, e.Types, e.PrefLevel, e.SortIndex)
	}
	for _, a := range rows.Addresses {
		b.Queue(`INSERT INTO card_addresses (id, card_id, uid, po_box, extended, street, locality, region, postal_code,
country, label, types, pref_level, sort_index)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			a.ID, a.CardID, a.UID, a.POBox, a.Extended, a.Street, a.Locality, a.Region, a.PostalCode,
			a.Country, a.Label, a.Types, a.PrefLevel, a.SortIndex)
	}
	for _, m := range rows.Messengers {
		b.Queue(`INSERT INTO card_messengers (id, card_id, uid, uri, types, pref_level, sort_index)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, m.ID, m.CardID, m.UID, m.URI, m.Types, m.PrefLevel, m.SortIndex)
	}
	for _, t := range rows.Telephones {
		b.Queue(`INSERT INTO card_telephones (id, card_id, uid, number, types, pref_level, sort_index)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, t.ID, t.CardID, t.UID, t.Number, t.Types, t.PrefLevel, t.SortIndex)
	}
	for _, u := range rows.URLs {
		b.Queue(`INSERT INTO card_urls (id, card_id, uid, address, types, pref_level, sort_index)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, u.ID, u.CardID, u.UID, u.Address, u.Types, u.PrefLevel, u.SortIndex)
	}
	for _, e := range rows.Extensions {
		b.Queue(`INSERT INTO card_extensions (card_id, parent_id, uid, client_app_name, property_name, parameter_name, value, sort_index)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.CardID, e.ParentID, e.UID, e.ClientAppName, e.PropertyName, e.ParameterName, e.Value, e.SortIndex)
	}
}

func (r *cardRepo) DeleteByUID(ctx context.Context, userID, addressBookID int64, uid string) error {
	defer observeDB(ctx, "cards.delete")()
	tag, err := r.pool.Exec(ctx, `DELETE FROM cards WHERE address_book_id=$1 AND uid=$2 AND address_book_id IN `+
		addressBookAccess.writable("$3"), addressBookID, uid, userID)
	if err != nil {
		return fmt.Errorf("delete card %s: %w", uid, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFoundOrForbidden
	}
	return nil
}

func (r *cardRepo) Load(ctx context.Context, userID int64, f Filter) (*CardRows, error) {
	defer observeDB(ctx, "cards.load")()
	where, args := objectFilter(f, userID, addressBookAccess, "o", "address_book_id")
	owned := `t.card_id IN (SELECT o.id FROM cards o WHERE ` + where + `)`

	b := &pgx.Batch{}
	b.Queue(`SELECT `+cardColumns+` FROM cards o WHERE `+where+` ORDER BY o.file_name`, args...)
	full := f.Projection == ProjectionFull
	if full {
		b.Queue(`SELECT `+emailColumns+` FROM card_emails t WHERE `+owned+` ORDER BY t.card_id, t.sort_index`, args...)
		b.Queue(`SELECT `+addressColumns+` FROM card_addresses t WHERE `+owned+` ORDER BY t.card_id, t.sort_index`, args...)
		b.Queue(`SELECT `+messengerColumns+` FROM card_messengers t WHERE `+owned+` ORDER BY t.card_id, t.sort_index`, args...)
		b.Queue(`SELECT `+telephoneColumns+` FROM card_telephones t WHERE `+owned+` ORDER BY t.card_id, t.sort_index`, args...)
		b.Queue(`SELECT `+urlColumns+` FROM card_urls t WHERE `+owned+` ORDER BY t.card_id, t.sort_index`, args...)
		b.Queue(`SELECT `+cardExtColumns+` FROM card_extensions t WHERE `+owned+` ORDER BY t.card_id, t.sort_index, t.id`, args...)
	}

	br := r.pool.SendBatch(ctx, b)
	defer br.Close()

	out := &CardRows{}
	var err error
	if out.Cards, err = collect(br, scanCard); err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}
	if !full {
		return out, nil
	}
	if out.Emails, err = collect(br, scanEmail); err != nil {
		return nil, fmt.Errorf("load card emails: %w", err)
	}
	if out.Addresses, err = collect(br, scanAddress); err != nil {
		return nil, fmt.Errorf("load card addresses: %w", err)
	}
	if out.Messengers, err = collect(br, scanMessenger); err != nil {
		return nil, fmt.Errorf("load card messengers: %w", err)
	}
	if out.Telephones, err = collect(br, scanTelephone); err != nil {
		return nil, fmt.Errorf("load card telephones: %w", err)
	}
	if out.URLs, err = collect(br, scanURL); err != nil {
		return nil, fmt.Errorf("load card urls: %w", err)
	}
	if out.Extensions, err = collect(br, scanCardExtension); err != nil {
		return nil, fmt.Errorf("load card extensions: %w", err)
	}
	return out, nil
}

func scanCard(row pgx.Row) (Card, error) {
	var (
		c  Card
		v3 Version3Features
		v4 Version4Features
	)
	err := row.Scan(&c.ID, &c.AddressBookID, &c.UID, &c.FileName, &c.Version, &c.ETag, &c.LastModified,
		&c.FormattedName, &c.FamilyName, &c.GivenName, &c.AdditionalNames, &c.HonorificPrefix, &c.HonorificSuffix, &c.Nickname,
		&c.Photo, &c.PhotoType, &c.Logo, &c.LogoType, &c.Sound, &c.SoundType,
		&c.Birthday, &c.BirthdayOmitYear, &c.Revision, &c.TimeZone,
		&c.Title, &c.Role, &c.OrgName, &c.OrgUnits, &c.Categories, &c.Note,
		&v3.SortString, &v3.Class, &v4.Kind, &v4.GenderSex, &v4.GenderIdentity, &v4.Anniversary)
	if err != nil {
		return Card{}, err
	}
	if c.Version == "4.0" {
		c.V4 = mo.Some(v4)
	} else {
		c.V3 = mo.Some(v3)
	}
	return c, nil
}

func scanEmail(row pgx.Row) (Email, error) {
	var e Email
	err := row.Scan(&e.ID, &e.CardID, &e.UID, &e.Address, &e.Types, &e.PrefLevel, &e.SortIndex)
	return e, err
}

func scanAddress(row pgx.Row) (Address, error) {
	var a Address
	err := row.Scan(&a.ID, &a.CardID, &a.UID, &a.POBox, &a.Extended, &a.Street, &a.Locality, &a.Region,
		&a.PostalCode, &a.Country, &a.Label, &a.Types, &a.PrefLevel, &a.SortIndex)
	return a, err
}

func scanMessenger(row pgx.Row) (InstantMessenger, error) {
	var m InstantMessenger
	err := row.Scan(&m.ID, &m.CardID, &m.UID, &m.URI, &m.Types, &m.PrefLevel, &m.SortIndex)
	return m, err
}

func scanTelephone(row pgx.Row) (Telephone, error) {
	var t Telephone
	err := row.Scan(&t.ID, &t.CardID, &t.UID, &t.Number, &t.Types, &t.PrefLevel, &t.SortIndex)
	return t, err
}

func scanURL(row pgx.Row) (URL, error) {
	var u URL
	err := row.Scan(&u.ID, &u.CardID, &u.UID, &u.Address, &u.Types, &u.PrefLevel, &u.SortIndex)
	return u, err
}

func scanCardExtension(row pgx.Row) (CardExtension, error) {
	var e CardExtension
	err := row.Scan(&e.ID, &e.CardID, &e.ParentID, &e.UID, &e.ClientAppName, &e.PropertyName, &e.ParameterName, &e.Value, &e.SortIndex)
	return e, err
}
