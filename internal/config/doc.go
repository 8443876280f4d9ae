// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is read from the user config file (config.cue under
// $XDG_CONFIG_HOME/envmatrix, ~/Library/Application Support/envmatrix or
// %APPDATA%\envmatrix) and then from the project file .envmatrix/config.cue,
// each validated against the embedded schema (config_schema.cue) and merged
// over the built-in defaults. ENVMATRIX_<KEY> environment variables override
// any key, with dots replaced by underscores (ENVMATRIX_RUNTIME_KIND).
package config
