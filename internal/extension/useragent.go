package extension

import "strings"

const maxClientAppLength = 128

var knownClients = []struct {
	marker string
	name   string
}{
	{"DAVx5", "davx5"},
	{"Thunderbird", "thunderbird"},
	{"Evolution", "evolution"},
	{"eM Client", "em-client"},
	{"CardBook", "cardbook"},
	{"dataaccessd", "apple-ios"},
	{"CalendarAgent", "apple-calendar"},
	{"AddressBook", "apple-contacts"},
	{"Outlook", "outlook"},
	{"vdirsyncer", "vdirsyncer"},
}

// ClientAppFromUserAgent derives the client application identifier stored
// with contact extension rows. Known clients map to fixed names; anything
// else uses its first product token. It returns nil for an empty agent.
func ClientAppFromUserAgent(ua string) *string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return nil
	}
	for _, c := range knownClients {
		if strings.Contains(ua, c.marker) {
			name := c.name
			return &name
		}
	}
	token := ua
	if i := strings.IndexAny(token, " /("); i > 0 {
		token = token[:i]
	}
	token = strings.ToLower(token)
	if len(token) > maxClientAppLength {
		token = token[:maxClientAppLength]
	}
	return &token
}
