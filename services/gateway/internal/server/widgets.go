package server

import "strings"

// Widget identifies one dashboard widget.
type Widget string

const (
	WidgetICPOverview    Widget = "icp-overview"
	WidgetProductDetails Widget = "product-details"
	WidgetBuyerPersonas  Widget = "buyer-personas"
	WidgetRateCompany    Widget = "rate-company"
	WidgetRatingSystem   Widget = "rating-system"
	WidgetTechTranslator Widget = "technical-translator"
)

// DefaultWidget is selected when the query names no known widget.
const DefaultWidget = WidgetICPOverview

// WidgetDescriptor is the render contract of one widget. Every field
// is required, so a widget without a data endpoint cannot be declared.
type WidgetDescriptor struct {
	ID    Widget `json:"id"`
	Title string `json:"title"`
	// Mode is "sync" for request/response widgets and "job" for those
	// that submit work and poll for progress.
	Mode string `json:"mode"`
	// DataPath is the API path the widget loads or submits against.
	DataPath string `json:"dataPath"`
}

// widgetRegistry is the closed set of dashboard widgets. Adding a
// widget means adding a fully-specified descriptor here; there are no
// placeholder or disabled entries.
var widgetRegistry = map[Widget]WidgetDescriptor{
	WidgetICPOverview: {
		ID:       WidgetICPOverview,
		Title:    "ICP Overview",
		Mode:     "job",
		DataPath: "/jobs/generate-icp",
	},
	WidgetProductDetails: {
		ID:       WidgetProductDetails,
		Title:    "Product Details",
		Mode:     "sync",
		DataPath: "/products/save",
	},
	WidgetBuyerPersonas: {
		ID:       WidgetBuyerPersonas,
		Title:    "Buyer Personas",
		Mode:     "job",
		DataPath: "/jobs/generate-icp",
	},
	WidgetRateCompany: {
		ID:       WidgetRateCompany,
		Title:    "Rate Company",
		Mode:     "sync",
		DataPath: "/ai/rate-company",
	},
	WidgetRatingSystem: {
		ID:       WidgetRatingSystem,
		Title:    "Rating System",
		Mode:     "sync",
		DataPath: "/ai/ratings",
	},
	WidgetTechTranslator: {
		ID:       WidgetTechTranslator,
		Title:    "Technical Translator",
		Mode:     "sync",
		DataPath: "/ai/translate-metric",
	},
}

// ResolveWidget maps a ?widget= query value onto the registry. Unknown
// or empty ids fall back to the default widget.
func ResolveWidget(raw string) WidgetDescriptor {
	id := Widget(strings.ToLower(strings.TrimSpace(raw)))
	if d, ok := widgetRegistry[id]; ok {
		return d
	}
	return widgetRegistry[DefaultWidget]
}

// Widgets lists all descriptors in a stable order.
func Widgets() []WidgetDescriptor {
	order := []Widget{
		WidgetICPOverview,
		WidgetProductDetails,
		WidgetBuyerPersonas,
		WidgetRateCompany,
		WidgetRatingSystem,
		WidgetTechTranslator,
	}
	out := make([]WidgetDescriptor, 0, len(order))
	for _, id := range order {
		out = append(out, widgetRegistry[id])
	}
	return out
}
