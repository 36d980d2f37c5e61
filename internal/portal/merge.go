package portal

import (
	"encoding/json"
	"maps"

	"github.com/marcus/portal/internal/color"
)

// Merge layers override on top of base and returns the effective
// configuration. Neither argument is modified and the result shares no
// mutable state with them.
//
// Scalars in the override win when set. Colors and transparency are merged
// key by key after normalization, dropping invalid entries. Footer,
// authentication and unknown keys are a shallow union. A role present in the
// override replaces the base list for that role as a whole, and every known
// role is present in the result.
func Merge(base, override Config) Config {
	out := Config{
		Branding:       mergeBranding(base.Branding, override.Branding),
		Links:          mergeLinks(base.Links, override.Links),
		Authentication: mergeAuthentication(base.Authentication, override.Authentication),
		Updated:        pick(base.Updated, override.Updated),
		Extra:          unionRaw(base.Extra, override.Extra),
	}
	switch {
	case override.Administrator != nil:
		out.Administrator = override.Administrator.clone()
	case base.Administrator != nil:
		out.Administrator = base.Administrator.clone()
	}
	return out
}

func mergeBranding(base, override Branding) Branding {
	return Branding{
		Title:               pick(base.Title, override.Title),
		Tagline:             pick(base.Tagline, override.Tagline),
		StatusMessage:       pick(base.StatusMessage, override.StatusMessage),
		Logo:                pick(base.Logo, override.Logo),
		BackgroundImage:     pick(base.BackgroundImage, override.BackgroundImage),
		PageBackgroundImage: pick(base.PageBackgroundImage, override.PageBackgroundImage),
		ShowAccountDetails:  pick(base.ShowAccountDetails, override.ShowAccountDetails),
		Colors:              mergeColors(base.Colors, override.Colors),
		Transparency:        mergeTransparency(base.Transparency, override.Transparency),
		Footer: Footer{
			PrivacyPolicyLabel: pick(base.Footer.PrivacyPolicyLabel, override.Footer.PrivacyPolicyLabel),
			PrivacyPolicyURL:   pick(base.Footer.PrivacyPolicyURL, override.Footer.PrivacyPolicyURL),
			HTML:               pick(base.Footer.HTML, override.Footer.HTML),
			Text:               pick(base.Footer.Text, override.Footer.Text),
			Extra:              unionRaw(base.Footer.Extra, override.Footer.Extra),
		},
		Extra: unionRaw(base.Extra, override.Extra),
	}
}

func mergeAuthentication(base, override Authentication) Authentication {
	return Authentication{
		AutoSAMLRedirect: pick(base.AutoSAMLRedirect, override.AutoSAMLRedirect),
		SAMLRedirectURL:  pick(base.SAMLRedirectURL, override.SAMLRedirectURL),
		Extra:            unionRaw(base.Extra, override.Extra),
	}
}

func mergeColors(base, override map[string]string) map[string]string {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for _, layer := range []map[string]string{base, override} {
		for k, v := range layer {
			if n, ok := color.Normalize(v); ok {
				out[k] = n
			}
		}
	}
	return out
}

func mergeTransparency(base, override map[string]float64) map[string]float64 {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]float64, len(base)+len(override))
	for _, layer := range []map[string]float64{base, override} {
		for k, v := range layer {
			if n, ok := color.NormalizeAlpha(v); ok {
				out[k] = n
			}
		}
	}
	return out
}

func mergeLinks(base, override map[Role][]Link) map[Role][]Link {
	out := make(map[Role][]Link, len(Roles))
	for _, r := range Roles {
		out[r] = []Link{}
	}
	for r, list := range base {
		out[r] = cloneLinks(list)
	}
	for r, list := range override {
		out[r] = cloneLinks(list)
	}
	return out
}

// pick returns a copy of override when set, else a copy of base.
func pick[T any](base, override *T) *T {
	src := base
	if override != nil {
		src = override
	}
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

func unionRaw(base, override map[string]json.RawMessage) map[string]json.RawMessage {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(base)+len(override))
	for k, v := range base {
		out[k] = cloneRaw(v)
	}
	for k, v := range override {
		out[k] = cloneRaw(v)
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneRawMap(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = cloneRaw(v)
	}
	return out
}

func cloneLinks(list []Link) []Link {
	out := make([]Link, len(list))
	for i, l := range list {
		l.Extra = cloneRawMap(l.Extra)
		out[i] = l
	}
	return out
}

func (a *Administrator) clone() *Administrator {
	c := *a
	c.Extra = cloneRawMap(a.Extra)
	return &c
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := Config{
		Branding:       c.Branding.clone(),
		Authentication: c.Authentication,
		Updated:        pick(nil, c.Updated),
		Extra:          cloneRawMap(c.Extra),
	}
	out.Authentication.AutoSAMLRedirect = pick(nil, c.Authentication.AutoSAMLRedirect)
	out.Authentication.SAMLRedirectURL = pick(nil, c.Authentication.SAMLRedirectURL)
	out.Authentication.Extra = cloneRawMap(c.Authentication.Extra)
	if c.Links != nil {
		out.Links = make(map[Role][]Link, len(c.Links))
		for r, list := range c.Links {
			out.Links[r] = cloneLinks(list)
		}
	}
	if c.Administrator != nil {
		out.Administrator = c.Administrator.clone()
	}
	return out
}

func (b Branding) clone() Branding {
	return Branding{
		Title:               pick(nil, b.Title),
		Tagline:             pick(nil, b.Tagline),
		StatusMessage:       pick(nil, b.StatusMessage),
		Logo:                pick(nil, b.Logo),
		BackgroundImage:     pick(nil, b.BackgroundImage),
		PageBackgroundImage: pick(nil, b.PageBackgroundImage),
		ShowAccountDetails:  pick(nil, b.ShowAccountDetails),
		Colors:              maps.Clone(b.Colors),
		Transparency:        maps.Clone(b.Transparency),
		Footer: Footer{
			PrivacyPolicyLabel: pick(nil, b.Footer.PrivacyPolicyLabel),
			PrivacyPolicyURL:   pick(nil, b.Footer.PrivacyPolicyURL),
			HTML:               pick(nil, b.Footer.HTML),
			Text:               pick(nil, b.Footer.Text),
			Extra:              cloneRawMap(b.Footer.Extra),
		},
		Extra: cloneRawMap(b.Extra),
	}
}
