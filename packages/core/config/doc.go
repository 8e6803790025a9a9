// Package config loads the qarun configuration file.
//
// The file is JSON and is looked up in the working directory under the names
// in ConfigFilenames unless a path is given. Fields left out keep the values
// from DefaultConfig; command-line flags are merged on top with Merge.
package config
