package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// loadFileIfExists decodes the TOML file at path over cfg. A missing file or a
// directory is not an error.
func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return false, fmt.Errorf("unknown keys in config %s: %v", path, undecoded)
	}
	return true, nil
}
