// Package config loads kiln's two configuration surfaces: the engine
// settings file (YAML) and the build manifest that declares rules.
//
// Manifests come in two flavors. CUE manifests are declarative and
// schema-checked; Starlark manifests are procedural scripts that assemble
// the same rule list programmatically. Both funnel into the Manifest type,
// which BuildStore converts into a registered rule store ready for target
// assembly.
package config
