package runner

// Architectures contains one entry for each architecture identifier the
// resolver's architecture filter (§4.4) and the program locator's ELF probe
// (§4.5) recognize.
var Architectures = map[string]bool{
	"x86_64": true,
	"i686":   true,
	"noarch": true,
}
