// Package factory instantiates pluggable modules from configuration. A module
// is named by a type string and carries a raw settings map that its factory
// decodes into a typed struct.
//
// Metrics sinks and report stores are built this way:
//
//	reports:
//	  type: sqlite
//	  conf:
//	    path: reports.db
//
//	store, err := reportlog.NewStore(cfg.Reports)
package factory
