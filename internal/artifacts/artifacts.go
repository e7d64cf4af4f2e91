package artifacts

import _ "embed"

// GlobalSettings is the default settings.yaml written on first run.
//
//go:embed global/settings.yaml
var GlobalSettings []byte
