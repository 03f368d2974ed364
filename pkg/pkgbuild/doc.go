// Package pkgbuild runs PKGBUILD distribution recipes: it loads the recipe's metadata, fetches
// and verifies its sources, runs the pkgver(), build() and package() callbacks in the embedded
// shell and archives the resulting package root.
package pkgbuild
