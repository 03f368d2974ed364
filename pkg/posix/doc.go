// Package posix contains portable implementations of the handful of POSIX file utilities
// (install, rm, mkdir, mv) that build and packaging scripts rely on. The shell runtime routes
// calls to these commands here so that scripts behave the same on every platform.
package posix
