package webui

import (
	"bytes"
	"fmt"
	"strings"
)

// Placement says which closing tag an injection goes in front of.
type Placement int

const (
	Head Placement = iota
	Body
)

var closingTags = map[Placement][]byte{
	Head: []byte("</head>"),
	Body: []byte("</body>"),
}

// Injection is markup inserted into served HTML.
type Injection struct {
	Placement Placement
	Code      string
}

// Inject inserts each injection, in order, right before the first
// occurrence of its closing tag. Documents without the tag are left
// untouched for that injection.
func Inject(html []byte, injections []Injection) []byte {
	for _, in := range injections {
		i := bytes.Index(html, closingTags[in.Placement])
		if i < 0 {
			continue
		}
		out := make([]byte, 0, len(html)+len(in.Code))
		out = append(out, html[:i]...)
		out = append(out, in.Code...)
		html = append(out, html[i:]...)
	}
	return html
}

// Insets are the system bar sizes in CSS pixels.
type Insets struct {
	Top    int `yaml:"top" json:"top"`
	Bottom int `yaml:"bottom" json:"bottom"`
	Left   int `yaml:"left" json:"left"`
	Right  int `yaml:"right" json:"right"`
}

// CSS declares the safe-area variables web UIs lay out against.
func (in Insets) CSS() string {
	var b strings.Builder
	b.WriteString(":root {\n")
	fmt.Fprintf(&b, "\t--safe-area-inset-top: %dpx;\n", in.Top)
	fmt.Fprintf(&b, "\t--safe-area-inset-right: %dpx;\n", in.Right)
	fmt.Fprintf(&b, "\t--safe-area-inset-bottom: %dpx;\n", in.Bottom)
	fmt.Fprintf(&b, "\t--safe-area-inset-left: %dpx;\n", in.Left)
	for _, side := range []string{"top", "bottom", "left", "right"} {
		fmt.Fprintf(&b, "\t--window-inset-%[1]s: var(--safe-area-inset-%[1]s, 0px);\n", side)
	}
	for _, side := range []string{"top", "bottom", "left", "right"} {
		fmt.Fprintf(&b, "\t--f7-safe-area-%[1]s: var(--window-inset-%[1]s, 0px) !important;\n", side)
	}
	b.WriteString("}")
	return b.String()
}

func (in Insets) inject() string {
	css := strings.ReplaceAll(in.CSS(), "\n", "\n\t")
	return "<!-- MMRL Insets Inject -->\n" +
		"<style data-mmrl type=\"text/css\">\n\t" + css + "\n</style>\n"
}

// Color is one CSS custom property of the app theme.
type Color struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// Colors is the theme exported to web UIs, in declaration order.
type Colors []Color

// DefaultColors is the baseline light scheme.
func DefaultColors() Colors {
	return Colors{
		{"primary", "#6750a4"},
		{"onPrimary", "#ffffff"},
		{"primaryContainer", "#eaddff"},
		{"onPrimaryContainer", "#21005d"},
		{"secondary", "#625b71"},
		{"onSecondary", "#ffffff"},
		{"secondaryContainer", "#e8def8"},
		{"onSecondaryContainer", "#1d192b"},
		{"tertiary", "#7d5260"},
		{"onTertiary", "#ffffff"},
		{"background", "#fef7ff"},
		{"onBackground", "#1d1b20"},
		{"surface", "#fef7ff"},
		{"onSurface", "#1d1b20"},
		{"surfaceVariant", "#e7e0ec"},
		{"onSurfaceVariant", "#49454f"},
		{"error", "#b3261e"},
		{"onError", "#ffffff"},
		{"outline", "#79747e"},
		{"outlineVariant", "#cac4d0"},
	}
}

// CSS declares every color as a custom property on :root.
func (c Colors) CSS() string {
	var b strings.Builder
	b.WriteString(":root {\n")
	for _, color := range c {
		fmt.Fprintf(&b, "\t--%s: %s;\n", color.Name, color.Value)
	}
	b.WriteString("}")
	return b.String()
}
