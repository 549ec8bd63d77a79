package multivalue

import (
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jw6ventures/calstore/internal/scalar"
	"github.com/jw6ventures/calstore/internal/store"
)

func testOwner() Owner {
	return Owner{
		ObjectID:    uuid.New(),
		ComponentID: uuid.New(),
		UID:         "evt-1",
		NewID:       uuid.New,
	}
}

func prop(name, value string, params map[string][]string) *ical.Prop {
	p := scalar.NewProp(name)
	p.Value = value
	for k, v := range params {
		p.Params[k] = v
	}
	return p
}

func TestExceptionsSplitsListedDates(t *testing.T) {
	owner := testOwner()
	p := prop(PropExceptionDate, "20240102T090000,20240104T090000", map[string][]string{"TZID": {"Europe/Berlin"}})

	rows, err := Exceptions(p, owner, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 3, rows[0].SortIndex)
	assert.Equal(t, 4, rows[1].SortIndex)
	assert.Equal(t, owner.ComponentID, rows[1].ComponentID)
	require.NotNil(t, rows[0].TZID)
	assert.Equal(t, "Europe/Berlin", *rows[0].TZID)

	back := ExceptionProp(rows[1])
	assert.Equal(t, "20240104T090000", back.Value)
	assert.Equal(t, "Europe/Berlin", back.Params.Get("TZID"))
}

func TestExceptionsRejectInvalidDate(t *testing.T) {
	_, err := Exceptions(prop(PropExceptionDate, "soon", nil), testOwner(), 0)
	assert.ErrorIs(t, err, scalar.ErrInvalidValue)
}

func TestAttendeeKeepsFirstDelegation(t *testing.T) {
	p := prop(PropAttendee, "mailto:bob@example.com", map[string][]string{
		ParamCommonName:    {"Bob"},
		ParamDelegatedFrom: {"mailto:a@example.com", "mailto:b@example.com"},
		ParamPartStat:      {"accepted"},
		ParamRSVP:          {"TRUE"},
		ParamRole:          {"X-OBSERVER"},
	})
	row, err := Attendee(p, testOwner(), 0)
	require.NoError(t, err)
	require.NotNil(t, row.DelegatedFrom)
	assert.Equal(t, "mailto:a@example.com", *row.DelegatedFrom)
	assert.Equal(t, "ACCEPTED", *row.Status)
	assert.Equal(t, "X-OBSERVER", *row.Role)
	assert.True(t, *row.RSVP)

	back := AttendeeProp(row)
	assert.Equal(t, []string{"mailto:a@example.com"}, back.Params[ParamDelegatedFrom])
	assert.Equal(t, []string{"TRUE"}, back.Params[ParamRSVP])
	assert.Equal(t, "Bob", back.Params.Get(ParamCommonName))
}

func TestAttendeeRejectsBadRSVP(t *testing.T) {
	_, err := Attendee(prop(PropAttendee, "mailto:x@example.com", map[string][]string{ParamRSVP: {"maybe"}}), testOwner(), 0)
	assert.ErrorIs(t, err, scalar.ErrInvalidValue)
}

func TestAttachmentModes(t *testing.T) {
	inline, err := Attachment(prop(PropAttach, "aGVsbG8=", map[string][]string{
		"VALUE": {"BINARY"}, ParamEncoding: {"BASE64"}, ParamFormatType: {"text/plain"},
	}), testOwner(), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), inline.Content)
	assert.True(t, inline.HasContent)

	back := AttachmentProp(inline, "")
	assert.Equal(t, "aGVsbG8=", back.Value)
	assert.Equal(t, "BASE64", back.Params.Get(ParamEncoding))

	meta := inline
	meta.Content = nil
	ref := AttachmentProp(meta, "/dav/calendars/1/attachments/"+meta.ID.String())
	require.NotNil(t, ref)
	assert.Equal(t, meta.ID.String(), ref.Params.Get(ParamManagedID))
	assert.Equal(t, "text/plain", ref.Params.Get(ParamFormatType))
	assert.Empty(t, ref.Params.Get(ParamEncoding))

	assert.Nil(t, AttachmentProp(meta, ""))

	external, err := Attachment(prop(PropAttach, "https://example.com/a.pdf", nil), testOwner(), 1)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.pdf", AttachmentProp(external, "").Value)
}

func TestAttachmentManagedIDCarriesContent(t *testing.T) {
	id := uuid.New()
	row, err := Attachment(prop(PropAttach, "https://host/dav/calendars/1/attachments/"+id.String(), map[string][]string{
		ParamManagedID: {id.String()},
	}), testOwner(), 0)
	require.NoError(t, err)
	require.NotNil(t, row.CarryFrom)
	assert.Equal(t, id, *row.CarryFrom)
	assert.Contains(t, AttachmentConsumed(row), ParamManagedID)
}

func TestAlarmRoundTrip(t *testing.T) {
	comp := &ical.Component{Name: ical.CompAlarm, Props: make(ical.Props)}
	add(comp.Props, prop(PropAction, "display", nil))
	add(comp.Props, prop(PropTrigger, "-pt15m", map[string][]string{ParamRelated: {"END"}}))
	add(comp.Props, prop(PropDescription, `Leave now\, really`, nil))

	row, err := Alarm(comp, testOwner(), 0)
	require.NoError(t, err)
	assert.Equal(t, "DISPLAY", row.Action)
	assert.Equal(t, "-PT15M", *row.TriggerRelative)
	assert.True(t, row.TriggerRelatedEnd)
	assert.Equal(t, "Leave now, really", *row.Description)

	back := AlarmComponent(row)
	assert.Equal(t, "DISPLAY", back.Props.Get(PropAction).Value)
	assert.Equal(t, "-PT15M", back.Props.Get(PropTrigger).Value)
	assert.Equal(t, "END", back.Props.Get(PropTrigger).Params.Get(ParamRelated))
	assert.Equal(t, `Leave now\, really`, back.Props.Get(PropDescription).Value)
}

func TestAlarmAbsoluteTrigger(t *testing.T) {
	comp := &ical.Component{Name: ical.CompAlarm, Props: make(ical.Props)}
	add(comp.Props, prop(PropAction, "AUDIO", nil))
	add(comp.Props, prop(PropTrigger, "20240301T080000Z", map[string][]string{"VALUE": {"DATE-TIME"}}))

	row, err := Alarm(comp, testOwner(), 2)
	require.NoError(t, err)
	require.NotNil(t, row.TriggerAbsolute)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), *row.TriggerAbsolute)
	assert.Equal(t, 2, row.SortIndex)
}

func TestAlarmRequiresTrigger(t *testing.T) {
	comp := &ical.Component{Name: ical.CompAlarm, Props: make(ical.Props)}
	add(comp.Props, prop(PropAction, "DISPLAY", nil))
	_, err := Alarm(comp, testOwner(), 0)
	assert.ErrorIs(t, err, scalar.ErrInvalidValue)
}

func TestSortByRestoresDeclaredOrder(t *testing.T) {
	rows := []store.Exception{{SortIndex: 2}, {SortIndex: 0}, {SortIndex: 1}}
	SortBy(rows, func(r store.Exception) int { return r.SortIndex })
	assert.Equal(t, []int{0, 1, 2}, []int{rows[0].SortIndex, rows[1].SortIndex, rows[2].SortIndex})
}

func TestGroups(t *testing.T) {
	col := JoinGroups([]string{"Work,Travel", `Odd\;One`, "bare;semi"})
	require.NotNil(t, col)
	assert.Equal(t, `Work,Travel;Odd\;One;bare\;semi`, *col)
	assert.Equal(t, []string{"Work,Travel", `Odd\;One`, `bare\;semi`}, SplitGroups(col))
	assert.Nil(t, JoinGroups(nil))
	assert.Nil(t, SplitGroups(nil))
}

func TestStructured(t *testing.T) {
	parts := SplitStructured(`Doe;Jane;;Dr.;Jr\, III`)
	assert.Equal(t, []string{"Doe", "Jane", "", "Dr.", "Jr, III"}, parts)
	assert.Equal(t, `Doe;Jane;;Dr.;Jr\, III`, JoinStructured(parts...))
}
