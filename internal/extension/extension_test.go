package extension

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCustom(t *testing.T) {
	assert.True(t, IsCustom("X-WR-CALNAME", false))
	assert.True(t, IsCustom("x-custom", false))
	assert.False(t, IsCustom("SUMMARY", false))
	assert.False(t, IsCustom("item1.EMAIL", false))
	assert.True(t, IsCustom("item1.EMAIL", true))
	assert.True(t, IsCustom("item1.X-ABLabel", true))
	assert.False(t, IsCustom("EMAIL", true))
}

func TestCompositeNames(t *testing.T) {
	assert.Equal(t, "item1.EMAIL", CompositeName("item1", "EMAIL"))
	assert.Equal(t, "EMAIL", CompositeName("", "EMAIL"))
	group, base := SplitComposite("item1.X-ABLabel")
	assert.Equal(t, "item1", group)
	assert.Equal(t, "X-ABLabel", base)
}

func TestExtractorCustomAndMapped(t *testing.T) {
	parent := uuid.New()
	x := NewExtractor(parent)

	x.Mapped("SUMMARY", map[string][]string{"LANGUAGE": {"en"}, "X-FOO": {"1"}})
	x.Mapped("DTSTART", map[string][]string{"TZID": {"Europe/Berlin"}, "X-BAR": {"2"}}, "TZID", "VALUE")
	x.Custom("X-CUSTOM", "a", map[string][]string{"X-P": {"v1", "v2"}})
	x.Custom("X-CUSTOM", "b", nil)

	rows := x.Rows()
	require.Len(t, rows, 7)

	for _, r := range rows {
		assert.Equal(t, parent, r.ParentID)
	}

	var customValues []Row
	for _, r := range rows {
		if r.PropertyName == "X-CUSTOM" && r.ParameterName == nil {
			customValues = append(customValues, r)
		}
		if r.PropertyName == "DTSTART" {
			require.NotNil(t, r.ParameterName)
			assert.Equal(t, "X-BAR", *r.ParameterName)
		}
	}
	require.Len(t, customValues, 2)
	assert.Equal(t, 0, customValues[0].SortIndex)
	assert.Equal(t, 1, customValues[1].SortIndex)
}

func TestExtractorConsumedNeverHidesXParams(t *testing.T) {
	x := NewExtractor(uuid.New())
	x.Mapped("ATTENDEE", map[string][]string{"X-NUM-GUESTS": {"2"}}, "X-NUM-GUESTS")
	require.Len(t, x.Rows(), 1)
}

func TestMappedOccurrencesShareIndexSpace(t *testing.T) {
	x := NewExtractor(uuid.New())
	x.Mapped("CATEGORIES", nil)
	x.Mapped("CATEGORIES", map[string][]string{"LANGUAGE": {"de"}})
	rows := x.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].SortIndex)
}

func TestCollectRebuildsProperties(t *testing.T) {
	parent := uuid.New()
	x := NewExtractor(parent)
	x.Custom("X-B", "second", nil)
	x.Custom("X-A", "first", map[string][]string{"X-P": {"1"}})
	x.Custom("X-B", "third", nil)
	x.Mapped("SUMMARY", map[string][]string{"LANGUAGE": {"en"}})

	props := Collect(x.Rows())
	require.Len(t, props, 4)

	assert.Equal(t, "SUMMARY", props[0].Name)
	assert.Nil(t, props[0].Value)
	assert.Equal(t, []string{"en"}, props[0].Params["LANGUAGE"])

	assert.Equal(t, "X-A", props[1].Name)
	assert.Equal(t, "first", *props[1].Value)
	assert.Equal(t, []string{"1"}, props[1].Params["X-P"])

	assert.Equal(t, "second", *props[2].Value)
	assert.Equal(t, "third", *props[3].Value)
}

func TestCollectUnionsRepeatedValues(t *testing.T) {
	param := "X-P"
	parent := uuid.New()
	rows := []Row{
		{ParentID: parent, PropertyName: "X-A", Value: "v"},
		{ParentID: parent, PropertyName: "X-A", ParameterName: &param, Value: "1"},
		{ParentID: parent, PropertyName: "X-A", ParameterName: &param, Value: "1"},
		{ParentID: parent, PropertyName: "X-A", ParameterName: &param, Value: "2"},
	}
	props := Collect(rows)
	require.Len(t, props, 1)
	assert.Equal(t, []string{"1", "2"}, props[0].Params[param])

	dst := map[string][]string{param: {"2"}}
	MergeParams(dst, props[0].Params)
	assert.Equal(t, []string{"2", "1"}, dst[param])
}

func TestPurgeScope(t *testing.T) {
	card := uuid.New()
	child := uuid.New()
	appA, appB := "app-a", "app-b"
	scope := PurgeScope{CardID: card, ClientApp: &appB, ResentProperties: []string{"X-SHARED"}}

	assert.True(t, scope.Matches(child, &appA, "X-ANY"), "child rows are always replaced")
	assert.True(t, scope.Matches(card, nil, "X-ANY"), "rows without a client app are replaced")
	assert.True(t, scope.Matches(card, &appB, "X-ANY"), "own rows are replaced")
	assert.True(t, scope.Matches(card, &appA, "X-SHARED"), "resent properties change owner")
	assert.False(t, scope.Matches(card, &appA, "X-CUSTOM"), "foreign rows survive")

	anonymous := PurgeScope{CardID: card}
	assert.False(t, anonymous.Matches(card, &appA, "X-CUSTOM"))
}

func TestClientAppFromUserAgent(t *testing.T) {
	assert.Nil(t, ClientAppFromUserAgent("  "))
	assert.Equal(t, "davx5", *ClientAppFromUserAgent("DAVx5/4.3.12-ose (2024/01/01; dav4jvm; okhttp/4.12.0) Android/14"))
	assert.Equal(t, "apple-ios", *ClientAppFromUserAgent("iOS/17.2 (21C62) dataaccessd/1.0"))
	assert.Equal(t, "curl", *ClientAppFromUserAgent("curl/8.4.0"))
	assert.Equal(t, "mystery", *ClientAppFromUserAgent("Mystery"))

	long := ""
	for i := 0; i < 200; i++ {
		long += "a"
	}
	assert.Len(t, *ClientAppFromUserAgent(long), 128)
}
