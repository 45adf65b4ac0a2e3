// Package config loads simwatch configuration from YAML.
//
// ${VAR} references are expanded from the environment before parsing, so
// secrets such as the connection token and database password can stay out of
// the file. LoadAndValidate is the usual entry point: it applies defaults
// and then validates.
package config
