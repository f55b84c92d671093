// Package config loads the hub configuration file. Everything defaults;
// the only fatal path is a config file that exists but cannot be parsed.
package config
