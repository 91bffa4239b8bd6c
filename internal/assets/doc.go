// Package assets tracks the model files aer installs.
//
// The embedded catalog.toml lists every known asset with its download URL,
// file name, and expected size. A Store maps catalog ids onto files in one
// flat install directory, classifying each present file as complete when its
// size is within SizeTolerancePercent of the catalog size. Nothing is cached:
// every query re-reads the directory.
package assets
