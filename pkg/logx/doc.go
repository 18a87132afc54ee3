// Package logx is the project-wide structured logging facade.
//
// It wraps zerolog behind a small Logger value type so call sites stay
// stable while sinks (console, file) can be reconfigured at runtime via
// Service.Apply.
package logx
