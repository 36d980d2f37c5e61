package portal

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/marcus/portal/internal/color"
)

func colorValue() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.SampledFrom([]string{"red", "#112233", "#ABC", "rgb(1, 2, 3)", "transparent", "", "bogus", "#12"}),
		rapid.StringMatching(`#[0-9a-f]{6}`),
	)
}

func colorMap() *rapid.Generator[map[string]string] {
	keys := make([]string, 0, len(ColorFields)+1)
	for _, f := range ColorFields {
		keys = append(keys, f.Key)
	}
	keys = append(keys, "custom")
	return rapid.MapOf(rapid.SampledFrom(keys), colorValue())
}

func linkList() *rapid.Generator[[]Link] {
	return rapid.SliceOf(rapid.Custom(func(t *rapid.T) Link {
		return Link{
			Title: rapid.String().Draw(t, "title"),
			URL:   rapid.StringMatching(`https://[a-z]{1,8}\.example`).Draw(t, "url"),
		}
	}))
}

func roleLinks() *rapid.Generator[map[Role][]Link] {
	return rapid.MapOf(rapid.SampledFrom(Roles), linkList())
}

func TestMergeColorPrecedence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := Config{Branding: Branding{Colors: colorMap().Draw(t, "base")}}
		override := Config{Branding: Branding{Colors: colorMap().Draw(t, "override")}}

		got := Merge(base, override).Branding.Colors
		for _, f := range ColorFields {
			k := f.Key
			if ov, ok := override.Branding.Colors[k]; ok {
				if n, valid := color.Normalize(ov); valid {
					if got[k] != n {
						t.Fatalf("%s: got %q, want override %q", k, got[k], n)
					}
					continue
				}
			}
			if bv, ok := base.Branding.Colors[k]; ok {
				if n, valid := color.Normalize(bv); valid {
					if got[k] != n {
						t.Fatalf("%s: got %q, want base %q", k, got[k], n)
					}
					continue
				}
			}
			if v, ok := got[k]; ok {
				t.Fatalf("%s: unexpected value %q", k, v)
			}
		}
	})
}

func TestMergeRoleReplacement(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := Config{Links: roleLinks().Draw(t, "base")}
		override := Config{Links: roleLinks().Draw(t, "override")}

		got := Merge(base, override).Links
		for _, r := range Roles {
			want, ok := override.Links[r]
			if !ok {
				want, ok = base.Links[r]
			}
			if !ok {
				want = []Link{}
			}
			if diff := cmp.Diff(want, got[r], cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("role %s mismatch (-want +got):\n%s", r, diff)
			}
		}
	})
}

func TestMergeScalarsAndMaps(t *testing.T) {
	base, err := Parse([]byte(`{
		"branding": {
			"title": "Base",
			"tagline": "Hello",
			"colors": {"primary": "#112233", "text": "#000"},
			"transparency": {"panel": 0.8},
			"footer": {"privacyPolicyLabel": "Privacy", "privacyPolicyUrl": "/p"},
			"layout": "grid"
		},
		"links": {"staff": [{"title": "Mail", "url": "/mail"}], "parents": [{"title": "News", "url": "/news"}]},
		"administrator": {"username": "admin", "passwordHash": "h", "salt": "s"},
		"azure": {"tenant": "a"}
	}`))
	require.NoError(t, err)
	override, err := Parse([]byte(`{
		"branding": {
			"title": "Override",
			"colors": {"primary": "red", "text": "not a color"},
			"transparency": {"panel": 2, "header": 0.5},
			"footer": {"privacyPolicyUrl": "/privacy"},
			"layout": "list"
		},
		"links": {"staff": []},
		"extra": true
	}`))
	require.NoError(t, err)

	got := Merge(base, override)

	assert.Equal(t, "Override", *got.Branding.Title)
	assert.Equal(t, "Hello", *got.Branding.Tagline)
	assert.Equal(t, map[string]string{"primary": "#ff0000", "text": "#000000"}, got.Branding.Colors)
	assert.Equal(t, map[string]float64{"panel": 1, "header": 0.5}, got.Branding.Transparency)
	assert.Equal(t, "Privacy", *got.Branding.Footer.PrivacyPolicyLabel)
	assert.Equal(t, "/privacy", *got.Branding.Footer.PrivacyPolicyURL)
	assert.JSONEq(t, `"list"`, string(got.Branding.Extra["layout"]))

	assert.Empty(t, got.Links[RoleStaff])
	assert.NotNil(t, got.Links[RoleStaff])
	assert.Len(t, got.Links[RoleParents], 1)
	assert.NotNil(t, got.Links[RoleAnonymous])
	assert.NotNil(t, got.Links[RoleStudents])

	require.NotNil(t, got.Administrator)
	assert.Equal(t, "admin", got.Administrator.Username)
	assert.JSONEq(t, `{"tenant":"a"}`, string(got.Extra["azure"]))
	assert.JSONEq(t, `true`, string(got.Extra["extra"]))
}

func TestMergeDoesNotAlias(t *testing.T) {
	base := DefaultConfig()
	base.Links[RoleStaff] = []Link{{Title: "A", URL: "/a"}}
	got := Merge(base, Config{})

	got.Links[RoleStaff][0].Title = "changed"
	got.Branding.Colors["primary"] = "#000000"
	*got.Branding.Title = "changed"

	assert.Equal(t, "A", base.Links[RoleStaff][0].Title)
	assert.Equal(t, "#1d4ed8", base.Branding.Colors["primary"])
	assert.Equal(t, DefaultTitle, *base.Branding.Title)
}

func TestMergeIsStableOnEffective(t *testing.T) {
	override, err := Parse([]byte(`{"branding":{"title":"X","colors":{"primary":"blue"}},"links":{"staff":[{"title":"A","url":"/a","icon":"mail"}]}}`))
	require.NoError(t, err)
	effective := Merge(DefaultConfig(), override)

	if diff := cmp.Diff(effective, Merge(effective, Config{})); diff != "" {
		t.Fatalf("merging an effective config with an empty override changed it (-want +got):\n%s", diff)
	}

	data, err := json.Marshal(effective)
	require.NoError(t, err)
	reparsed, err := Parse(data)
	require.NoError(t, err)
	if diff := cmp.Diff(effective, reparsed); diff != "" {
		t.Fatalf("effective config does not survive encoding (-want +got):\n%s", diff)
	}
}

func TestClone(t *testing.T) {
	c := DefaultConfig()
	c.Administrator = &Administrator{Username: "a"}
	clone := c.Clone()
	require.Empty(t, cmp.Diff(c, clone))

	clone.Administrator.Username = "b"
	clone.Branding.Colors["primary"] = "#000000"
	assert.Equal(t, "a", c.Administrator.Username)
	assert.Equal(t, "#1d4ed8", c.Branding.Colors["primary"])
}
