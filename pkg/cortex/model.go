package cortex

// Vendor identifies which provider plugin serves a Model (§4.3).
type Vendor string

const (
	VendorOpenAI     Vendor = "openai"
	VendorAnthropic  Vendor = "anthropic"
	VendorGoogle     Vendor = "google"
	VendorGrok       Vendor = "grok"
	VendorCompatible Vendor = "compatible" // generic OpenAI-compatible REST
)

// Model describes one backend model assignment (§3).
type Model struct {
	Name           string
	Vendor         Vendor
	APIModel       string // the identifier sent on the wire to the vendor
	MaxTokenLength int
	SupportsTools  bool

	// Reasoning marks models whose SSE stream may have long inter-event
	// gaps during extended thinking. The Anthropic plugin starts a gap
	// timer for them whose expiry nothing acts on; the pathway's hard
	// timeout stays the only deadline (§9 decision 3).
	Reasoning bool

	// BaseURL and APIKey configure the compatible/grok REST clients and
	// any self-hosted or proxy deployment of a vendor model.
	BaseURL string
	APIKey  string

	// RequestsPerSecond is the token-bucket capacity/refill rate of the
	// model's endpoint (§3 "Endpoint"). Zero means the executor applies
	// a permissive default rather than refusing to dispatch.
	RequestsPerSecond float64
}
