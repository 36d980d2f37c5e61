package monitor

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/marcus/portal/internal/portal"
)

// Row is one labelled value of the branding panel. Draft marks values that
// come from the local override.
type Row struct {
	Label string
	Value string
	Color bool
	Draft bool
}

// BrandingRows flattens the branding block of effective. Colors and
// transparency follow the scalar fields, each sorted by key.
func BrandingRows(effective, override portal.Config) []Row {
	b, ob := effective.Branding, override.Branding
	rows := []Row{
		strRow("title", b.Title, ob.Title != nil),
		strRow("tagline", b.Tagline, ob.Tagline != nil),
		strRow("statusMessage", b.StatusMessage, ob.StatusMessage != nil),
		strRow("logo", b.Logo, ob.Logo != nil),
		strRow("backgroundImage", b.BackgroundImage, ob.BackgroundImage != nil),
		strRow("pageBackgroundImage", b.PageBackgroundImage, ob.PageBackgroundImage != nil),
	}
	if b.ShowAccountDetails != nil {
		rows = append(rows, Row{
			Label: "showAccountDetails",
			Value: strconv.FormatBool(*b.ShowAccountDetails),
			Draft: ob.ShowAccountDetails != nil,
		})
	}

	for _, k := range sortedKeys(b.Colors) {
		_, drafted := ob.Colors[k]
		rows = append(rows, Row{Label: "colors." + k, Value: b.Colors[k], Color: true, Draft: drafted})
	}
	for _, k := range sortedKeys(b.Transparency) {
		_, drafted := ob.Transparency[k]
		rows = append(rows, Row{
			Label: "transparency." + k,
			Value: strconv.FormatFloat(b.Transparency[k], 'f', -1, 64),
			Draft: drafted,
		})
	}
	return rows
}

// LinkRows formats the links of role. The whole list is a draft when the
// override names the role.
func LinkRows(effective, override portal.Config, role portal.Role) []Row {
	_, drafted := override.Links[role]
	links := effective.Links[role]
	rows := make([]Row, 0, len(links))
	for i, l := range links {
		rows = append(rows, Row{
			Label: fmt.Sprintf("%d. %s", i+1, l.Title),
			Value: l.URL,
			Draft: drafted,
		})
	}
	return rows
}

// HasDraft reports whether override changes anything.
func HasDraft(override portal.Config) bool {
	return override.String() != "{}"
}

func strRow(label string, v *string, draft bool) Row {
	r := Row{Label: label, Draft: draft}
	if v != nil {
		r.Value = *v
	}
	return r
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
