// Package portal defines the portal configuration document: branding,
// role link lists, the administrator descriptor and whatever extra keys a
// deployment adds. Decoding is lenient so that a hand-edited or partially
// written document never takes the portal down; encoding keeps unknown keys.
package portal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrNotObject is returned when a configuration document is valid JSON but
// not an object.
var ErrNotObject = errors.New("configuration is not a JSON object")

// Role partitions the link lists.
type Role string

const (
	RoleAnonymous Role = "anonymous"
	RoleParents   Role = "parents"
	RoleStudents  Role = "students"
	RoleStaff     Role = "staff"
)

// Roles lists the known roles in display order.
var Roles = []Role{RoleAnonymous, RoleParents, RoleStudents, RoleStaff}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Config is a portal configuration. The same type carries base, override and
// effective configurations: in an override an absent scalar is a nil pointer,
// an absent map is nil and an absent role is a missing key.
type Config struct {
	Branding       Branding        `json:"branding,omitzero"`
	Links          map[Role][]Link `json:"links,omitempty" jsonschema:"description=Role to ordered link list"`
	Administrator  *Administrator  `json:"administrator,omitempty"`
	Authentication Authentication  `json:"authentication,omitzero"`
	Updated        *string         `json:"updated,omitempty" jsonschema:"format=date-time"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Branding holds the presentation settings.
type Branding struct {
	Title               *string            `json:"title,omitempty"`
	Tagline             *string            `json:"tagline,omitempty"`
	StatusMessage       *string            `json:"statusMessage,omitempty"`
	Logo                *string            `json:"logo,omitempty"`
	BackgroundImage     *string            `json:"backgroundImage,omitempty"`
	PageBackgroundImage *string            `json:"pageBackgroundImage,omitempty"`
	ShowAccountDetails  *bool              `json:"showAccountDetails,omitempty"`
	Colors              map[string]string  `json:"colors,omitempty"`
	Transparency        map[string]float64 `json:"transparency,omitempty"`
	Footer              Footer             `json:"footer,omitzero"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Footer is the page footer block.
type Footer struct {
	PrivacyPolicyLabel *string `json:"privacyPolicyLabel,omitempty"`
	PrivacyPolicyURL   *string `json:"privacyPolicyUrl,omitempty"`
	HTML               *string `json:"html,omitempty"`
	Text               *string `json:"text,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Authentication configures the sign-in redirect.
type Authentication struct {
	AutoSAMLRedirect *bool   `json:"autoSamlRedirect,omitempty"`
	SAMLRedirectURL  *string `json:"samlRedirectUrl,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Link is one shortcut. Links have no identity beyond their position.
type Link struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Icon        string `json:"icon,omitempty"`
	Target      string `json:"target,omitempty"`
	Description string `json:"description,omitempty"`

	// Extra carries style fields such as backgroundColor and opacity.
	Extra map[string]json.RawMessage `json:"-"`
}

// Administrator is the credential descriptor checked by the save endpoint.
type Administrator struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	Salt         string `json:"salt"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Parse decodes a configuration document.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// String returns the compact JSON encoding.
func (c Config) String() string {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<invalid config: %v>", err)
	}
	return string(b)
}

func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	return marshalWithExtra(plain(c), c.Extra)
}

func (c *Config) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	if f == nil {
		return ErrNotObject
	}

	var out Config
	if b := f.object("branding"); b != nil {
		out.Branding = decodeBranding(b)
	}
	links, ok := f.take("links")
	if alias, hasAlias := f.take("roles"); !ok && hasAlias {
		links, ok = alias, true
	}
	if ok {
		out.Links = decodeLinks(links)
	}
	if a := f.object("administrator"); a != nil {
		out.Administrator = &Administrator{
			Username:     derefString(a.str("username")),
			PasswordHash: derefString(a.str("passwordHash")),
			Salt:         derefString(a.str("salt")),
		}
		out.Administrator.Extra = a.rest()
	}
	if a := f.object("authentication"); a != nil {
		out.Authentication = Authentication{
			AutoSAMLRedirect: a.boolean("autoSamlRedirect"),
			SAMLRedirectURL:  a.str("samlRedirectUrl"),
			Extra:            a.rest(),
		}
	}
	out.Updated = f.str("updated")
	out.Extra = f.rest()

	*c = out
	return nil
}

func (b Branding) MarshalJSON() ([]byte, error) {
	type plain Branding
	return marshalWithExtra(plain(b), b.Extra)
}

func (f Footer) MarshalJSON() ([]byte, error) {
	type plain Footer
	return marshalWithExtra(plain(f), f.Extra)
}

func (a Authentication) MarshalJSON() ([]byte, error) {
	type plain Authentication
	return marshalWithExtra(plain(a), a.Extra)
}

func (l Link) MarshalJSON() ([]byte, error) {
	type plain Link
	return marshalWithExtra(plain(l), l.Extra)
}

func (a Administrator) MarshalJSON() ([]byte, error) {
	type plain Administrator
	return marshalWithExtra(plain(a), a.Extra)
}

func decodeBranding(f fields) Branding {
	b := Branding{
		Title:               f.str("title"),
		Tagline:             f.str("tagline"),
		StatusMessage:       f.str("statusMessage"),
		Logo:                f.str("logo"),
		BackgroundImage:     f.str("backgroundImage"),
		PageBackgroundImage: f.str("pageBackgroundImage"),
		ShowAccountDetails:  f.boolean("showAccountDetails"),
	}
	if colors := f.object("colors"); colors != nil {
		b.Colors = make(map[string]string, len(colors))
		for k, raw := range colors {
			var s string
			if !isNull(raw) && json.Unmarshal(raw, &s) == nil {
				b.Colors[k] = s
			}
		}
	}
	if tr := f.object("transparency"); tr != nil {
		b.Transparency = make(map[string]float64, len(tr))
		for k, raw := range tr {
			if v, ok := decodeNumber(raw); ok {
				b.Transparency[k] = v
			}
		}
	}
	if footer := f.object("footer"); footer != nil {
		b.Footer = Footer{
			PrivacyPolicyLabel: footer.str("privacyPolicyLabel"),
			PrivacyPolicyURL:   footer.str("privacyPolicyUrl"),
			HTML:               footer.str("html"),
			Text:               footer.str("text"),
			Extra:              footer.rest(),
		}
	}
	b.Extra = f.rest()
	return b
}

func decodeLinks(raw json.RawMessage) map[Role][]Link {
	roles, err := decodeFields(raw)
	if err != nil || roles == nil {
		return nil
	}
	out := make(map[Role][]Link, len(roles))
	for role, list := range roles {
		var items []json.RawMessage
		if isNull(list) || json.Unmarshal(list, &items) != nil {
			continue
		}
		links := make([]Link, 0, len(items))
		for _, item := range items {
			lf, err := decodeFields(item)
			if err != nil || lf == nil {
				continue
			}
			links = append(links, Link{
				Title:       derefString(lf.str("title")),
				URL:         derefString(lf.str("url")),
				Icon:        derefString(lf.str("icon")),
				Target:      derefString(lf.str("target")),
				Description: derefString(lf.str("description")),
				Extra:       lf.rest(),
			})
		}
		out[Role(role)] = links
	}
	return out
}

// fields is a decoded JSON object whose known keys are taken one at a time;
// whatever remains becomes the side-map of unknown keys.
type fields map[string]json.RawMessage

// decodeFields returns nil fields and no error for valid non-object JSON.
func decodeFields(data []byte) (fields, error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		var doc any
		return nil, json.Unmarshal(data, &doc)
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, nil
	}
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f == nil {
		f = fields{}
	}
	return f, nil
}

func (f fields) take(key string) (json.RawMessage, bool) {
	raw, ok := f[key]
	if ok {
		delete(f, key)
	}
	return raw, ok
}

func (f fields) str(key string) *string {
	raw, ok := f.take(key)
	if !ok || isNull(raw) {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return nil
	}
	return &s
}

func (f fields) boolean(key string) *bool {
	raw, ok := f.take(key)
	if !ok || isNull(raw) {
		return nil
	}
	var v bool
	if json.Unmarshal(raw, &v) != nil {
		return nil
	}
	return &v
}

func (f fields) object(key string) fields {
	raw, ok := f.take(key)
	if !ok {
		return nil
	}
	obj, err := decodeFields(raw)
	if err != nil {
		return nil
	}
	return obj
}

// rest returns the remaining keys, compacted, or nil when none remain.
func (f fields) rest() map[string]json.RawMessage {
	if len(f) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(f))
	for k, raw := range f {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			continue
		}
		out[k] = json.RawMessage(buf.Bytes())
	}
	return out
}

// decodeNumber accepts JSON numbers and numeric strings.
func decodeNumber(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var n float64
	if json.Unmarshal(raw, &n) == nil {
		return n, true
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return b, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, known := m[k]; !known {
			m[k] = raw
		}
	}
	return json.Marshal(m)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
