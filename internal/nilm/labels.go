package nilm

// Fallback identity for events whose signature no longer exists, e.g.
// after a merge raced with the event feed.
const (
	FallbackLabel = "Unknown"
	FallbackIcon  = "plug"
	FallbackColor = "#6b7280"
)

// labelBand maps a power range to the placeholder identity a freshly
// learned signature gets until the user names it.
type labelBand struct {
	belowWatts float64
	label      string
	icon       string
	color      string
}

var labelBands = []labelBand{
	{50, "Small Device", "plug", "#60a5fa"},
	{200, "Medium Device", "snowflake", "#22c55e"},
	{800, "Appliance", "tv", "#f59e0b"},
	{2000, "Heater/Cooler", "fire", "#ef4444"},
	{0, "Major Appliance", "lightning", "#a855f7"}, // catch-all
}

// AutoLabel returns the placeholder label, icon and color for a new
// signature of the given average magnitude.
func AutoLabel(avgWatts float64) (label, icon, color string) {
	for _, b := range labelBands[:len(labelBands)-1] {
		if avgWatts < b.belowWatts {
			return b.label, b.icon, b.color
		}
	}
	last := labelBands[len(labelBands)-1]
	return last.label, last.icon, last.color
}

// IsAutoLabel reports whether a label is one of the generated
// placeholders rather than a name the user assigned. Reanalysis uses
// this to decide which labels are worth carrying over.
func IsAutoLabel(label string) bool {
	for _, b := range labelBands {
		if label == b.label {
			return true
		}
	}
	return false
}

