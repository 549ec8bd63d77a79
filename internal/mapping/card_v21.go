package mapping

import (
	"strings"
)

// legacyParamNames names the bare vCard 2.1 parameter tokens that are not
// types. Every other bare token is a TYPE value.
var legacyParamNames = map[string]string{
	"7BIT":             "ENCODING",
	"8BIT":             "ENCODING",
	"BASE64":           "ENCODING",
	"QUOTED-PRINTABLE": "ENCODING",
	"INLINE":           "VALUE",
	"URL":              "VALUE",
	"CONTENT-ID":       "VALUE",
	"CID":              "VALUE",
}

// normalizeV21Params rewrites the bare parameters of a vCard 2.1 body, as in
// TEL;HOME;VOICE:..., into name=value form. Bodies of other versions are
// returned unchanged.
func normalizeV21Params(body []byte) []byte {
	lines := strings.SplitAfter(string(body), "\n")
	if !declaresV21(lines) {
		return body
	}

	var b strings.Builder
	b.Grow(len(body) + 64)
	softBreak := false
	for _, line := range lines {
		content := strings.TrimRight(line, "\r\n")
		eol := line[len(content):]
		switch {
		case softBreak:
			// quoted-printable continuation
			softBreak = strings.HasSuffix(content, "=")
			b.WriteString(line)
			continue
		case content == "" || content[0] == ' ' || content[0] == '\t':
			b.WriteString(line)
			continue
		}
		content, qp := normalizeV21Line(content)
		softBreak = qp && strings.HasSuffix(content, "=")
		b.WriteString(content)
		b.WriteString(eol)
	}
	return []byte(b.String())
}

func normalizeV21Line(line string) (string, bool) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return line, false
	}
	parts := strings.Split(line[:colon], ";")
	out := make([]string, 0, len(parts))
	out = append(out, parts[0])
	qp := false
	for _, tok := range parts[1:] {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if !strings.Contains(tok, "=") {
			name, ok := legacyParamNames[strings.ToUpper(tok)]
			if !ok {
				name = "TYPE"
			}
			tok = name + "=" + tok
		}
		if strings.EqualFold(tok, "ENCODING=QUOTED-PRINTABLE") {
			qp = true
		}
		out = append(out, tok)
	}
	return strings.Join(out, ";") + line[colon:], qp
}

func declaresV21(lines []string) bool {
	for _, line := range lines {
		name, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		if i := strings.IndexByte(name, ';'); i >= 0 {
			name = name[:i]
		}
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		if strings.EqualFold(name, fieldVersion) {
			return strings.TrimSpace(value) == "2.1"
		}
	}
	return false
}
