package portal

// ColorField describes one themeable color.
type ColorField struct {
	Key     string
	Label   string
	Default string
}

// ColorFields lists the known branding.colors keys in form order.
var ColorFields = []ColorField{
	{"background", "Page background", "#f5f7fb"},
	{"surface", "Surface", "#ffffff"},
	{"surfaceSubtle", "Subtle surface", "#f7faff99"},
	{"primary", "Primary", "#1d4ed8"},
	{"primaryDark", "Primary (dark)", "#1a3696"},
	{"primaryAccent", "Primary accent", "#2563eb"},
	{"text", "Text", "#1f2937"},
	{"muted", "Muted text", "#6b7280"},
	{"border", "Border", "#e5e7eb"},
	{"headerOverlay", "Header overlay", "#ffffffd9"},
	{"sessionButtonBackground", "Session button", "#ffffffd9"},
	{"emptyStateBackground", "Empty state", "#6b72801f"},
	{"tertiaryButtonBackground", "Tertiary button", "#ffffff"},
	{"danger", "Danger", "#dc2626"},
	{"footerBackground", "Footer background", "#ffffff"},
	{"footerText", "Footer text", "#6b7280"},
	{"footerLink", "Footer link", "#1d4ed8"},
}

// TransparencyField describes one panel opacity.
type TransparencyField struct {
	Key     string
	Label   string
	Default float64
}

// TransparencyFields lists the known branding.transparency keys.
var TransparencyFields = []TransparencyField{
	{"panel", "Panels", 0.8},
	{"header", "Header", 0.72},
	{"footer", "Footer", 0.65},
	{"button", "Buttons", 0.75},
}

// IsColorKey reports whether key is a known color key.
func IsColorKey(key string) bool {
	for _, f := range ColorFields {
		if f.Key == key {
			return true
		}
	}
	return false
}

// DefaultTitle is shown when no title is configured.
const DefaultTitle = "Portal"

// DefaultConfig is the configuration used when the server has none or
// cannot be reached.
func DefaultConfig() Config {
	colors := make(map[string]string, len(ColorFields))
	for _, f := range ColorFields {
		colors[f.Key] = f.Default
	}
	transparency := make(map[string]float64, len(TransparencyFields))
	for _, f := range TransparencyFields {
		transparency[f.Key] = f.Default
	}
	links := make(map[Role][]Link, len(Roles))
	for _, r := range Roles {
		links[r] = []Link{}
	}
	return Config{
		Branding: Branding{
			Title:              ptr(DefaultTitle),
			Tagline:            ptr(""),
			ShowAccountDetails: ptr(true),
			Colors:             colors,
			Transparency:       transparency,
			Footer: Footer{
				PrivacyPolicyLabel: ptr("Privacy policy"),
				PrivacyPolicyURL:   ptr(""),
			},
		},
		Links: links,
	}
}

// TitleOrDefault returns the configured title, falling back to DefaultTitle.
func (c Config) TitleOrDefault() string {
	if c.Branding.Title != nil && *c.Branding.Title != "" {
		return *c.Branding.Title
	}
	return DefaultTitle
}

func ptr[T any](v T) *T { return &v }
