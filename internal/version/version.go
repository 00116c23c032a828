package version

import "fmt"

const (
	Name = "secnews"
	// Version is the current version of secnews
	Version = "0.1.0"
)

// GetVersion returns the current version string
func GetVersion() string {
	return fmt.Sprintf("%s %s", Name, Version)
}
