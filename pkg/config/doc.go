// Package config loads hostfacts configuration and scripted facts.
//
// # Configuration
//
// Configuration is written in CUE, either as one file or as a directory
// holding a CUE package. The input is unified with the embedded #Config
// schema, which rejects unknown fields and supplies every default, and the
// decoded struct is then checked with validator tags:
//
//	facts: {
//	    blocklist: ["identity"]
//	    external_dirs: ["/etc/hostfacts/facts.d"]
//	    parallelism: 8
//	}
//	cache: {
//	    enabled: true
//	    ttls: processors: "1h"
//	}
//
// Problems come back as a *LoadError listing every ValidationError with its
// file position or configuration path. Load("") falls back to DefaultFile
// and to the defaults when that file does not exist.
//
// # Scripted facts
//
// A .star file declares a resolver in Starlark:
//
//	name = "virtual"
//	confine = {"kernel": "Linux", "os.hardware": "/^x86_64$/"}
//	depends = ["processors.models"]
//	produces = ["virtual"]
//
//	def resolve(facts):
//	    return {"virtual": "physical"}
//
// The file runs once when loaded and its globals are frozen, so Script.Call
// may run concurrently. Call receives the nested fact map and is canceled
// with its context.
package config
