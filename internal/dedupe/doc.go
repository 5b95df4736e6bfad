// Package dedupe remembers recently seen request ids so a client that
// resubmits the same coordination request within a window is rejected
// instead of dispatching agents twice.
package dedupe
