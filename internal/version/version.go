// ABOUTME: Version information for chunkplay
// ABOUTME: Version is overridable at build time with -ldflags
package version

// Version is the release version
var Version = "0.1.0"

const (
	// Product is the product name reported to chunk servers
	Product = "chunkplay"

	// Manufacturer identifies the maintainers
	Manufacturer = "Resonate Protocol"
)

// UserAgent returns the HTTP User-Agent for chunk requests
func UserAgent() string {
	return Product + "/" + Version
}
