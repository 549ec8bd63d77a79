package multivalue

import (
	"testing"

	"github.com/emersion/go-vcard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jw6ventures/calstore/internal/scalar"
)

func cardOwner(version string) CardOwner {
	return CardOwner{CardID: uuid.New(), UID: "card-1", Version: version, NewID: uuid.New}
}

func TestEmailPreferenceByVersion(t *testing.T) {
	v3 := &vcard.Field{Value: "jane@example.com", Params: vcard.Params{ParamType: {"INTERNET", "WORK", "pref"}}}
	row, err := Email(v3, cardOwner("3.0"), 0)
	require.NoError(t, err)
	assert.Equal(t, "INTERNET,WORK", *row.Types)
	require.NotNil(t, row.PrefLevel)
	assert.Equal(t, 1, *row.PrefLevel)

	back := EmailField(row, "3.0")
	assert.Equal(t, []string{"INTERNET", "WORK", "pref"}, back.Params[ParamType])
	assert.Empty(t, back.Params[ParamPref])

	v4 := &vcard.Field{Value: "jane@example.com", Params: vcard.Params{ParamType: {"work"}, ParamPref: {"3"}}}
	row, err = Email(v4, cardOwner("4.0"), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, *row.PrefLevel)

	back = EmailField(row, "4.0")
	assert.Equal(t, []string{"3"}, back.Params[ParamPref])
	assert.Equal(t, []string{"work"}, back.Params[ParamType])
}

func TestTypeListSplitsCommaValues(t *testing.T) {
	f := &vcard.Field{Value: "+1 555 0100", Params: vcard.Params{ParamType: {"cell,voice"}}}
	row, err := Telephone(f, cardOwner("3.0"), 0)
	require.NoError(t, err)
	assert.Equal(t, "cell,voice", *row.Types)
	assert.Nil(t, row.PrefLevel)
}

func TestPrefOutOfRange(t *testing.T) {
	f := &vcard.Field{Value: "x@example.com", Params: vcard.Params{ParamPref: {"0"}}}
	_, err := Email(f, cardOwner("4.0"), 0)
	assert.ErrorIs(t, err, scalar.ErrInvalidValue)
}

func TestAddressComponents(t *testing.T) {
	f := &vcard.Field{
		Value:  `;;1 Main St\, Apt 2;Springfield;IL;62701;USA`,
		Params: vcard.Params{ParamType: {"home"}, ParamLabel: {"1 Main St"}},
	}
	row, err := Address(f, cardOwner("4.0"), 0)
	require.NoError(t, err)
	assert.Nil(t, row.POBox)
	assert.Equal(t, "1 Main St, Apt 2", *row.Street)
	assert.Equal(t, "USA", *row.Country)
	assert.Equal(t, "1 Main St", *row.Label)

	back := AddressField(row, "4.0")
	assert.Equal(t, f.Value, back.Value)
	assert.Equal(t, []string{"1 Main St"}, back.Params[ParamLabel])
}

func TestShortAddressIsPadded(t *testing.T) {
	row, err := Address(&vcard.Field{Value: ";;Street"}, cardOwner("3.0"), 0)
	require.NoError(t, err)
	assert.Equal(t, "Street", *row.Street)
	assert.Nil(t, row.Country)
	assert.Equal(t, ";;Street;;;;", AddressField(row, "3.0").Value)
}

func TestEmptyValuesRejected(t *testing.T) {
	_, err := URL(&vcard.Field{Value: " "}, cardOwner("3.0"), 0)
	assert.ErrorIs(t, err, scalar.ErrInvalidValue)
	_, err = Messenger(&vcard.Field{Value: ""}, cardOwner("3.0"), 0)
	assert.ErrorIs(t, err, scalar.ErrInvalidValue)
}
