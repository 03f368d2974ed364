// Package buildsys implements the make-style build driver. Targets are declared in a Starlark
// task file (tasks.star) and their commands run in an embedded POSIX shell (mvdan.cc/sh), so the
// driver needs neither make nor a system shell. Projects without a task file get the built-in
// build, release, install, uninstall and clean targets.
package buildsys
