package directory

import (
	"github.com/whistler-io/whistler/internal/config"
)

// NewFromConfig loads the catalogs from the configured paths.
func NewFromConfig(conf *config.Config) (*Directory, error) {
	return Load(Paths{
		Users:     conf.DirectoryUsersPath(),
		Selectors: conf.DirectorySelectorsPath(),
		Volumes:   conf.DirectoryVolumesPath(),
	})
}
