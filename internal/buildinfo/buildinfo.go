// Package buildinfo exposes version metadata set via -ldflags.
package buildinfo

var (
	Service = "examsync"
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"service": Service,
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}
