package config

import (
	"os"
	"strings"
)

// ReconAutoRebuild controls whether detected drift triggers an automatic
// allocation rebuild. When disabled, drift is only reported.
//
// Set via env:
// - RECON_AUTO_REBUILD=false (default true)
func ReconAutoRebuild() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("RECON_AUTO_REBUILD")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StrictLotImmutability blocks downward quantity corrections below the
// already-sold volume instead of flooring remaining at zero.
//
// Set via env:
// - STRICT_LOT_IMMUTABLE=true
func StrictLotImmutability() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_LOT_IMMUTABLE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
