package buildinfo

import "fmt"

// Set at build time through -ldflags "-X".
var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}

// Short is the one-line form printed by the version command.
func Short() string {
	s := Version
	if Commit != "" {
		s = fmt.Sprintf("%s (%.8s)", s, Commit)
	}
	if BuiltAt != "" {
		s += " built " + BuiltAt
	}
	return s
}
