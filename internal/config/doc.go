// Package config loads, normalizes, and validates Quill's TOML
// configuration.
//
// Load resolves the config file (explicit path, ~/.config/quill/config.toml,
// or ./quill.toml), merges it over Default(), expands and absolutizes paths,
// and validates ranges. Packages receive a *Config and read from it; nothing
// mutates configuration after Load returns.
package config
