// Package policy evaluates Rego assertions against resolved fact trees.
//
// Every policy is a Rego module whose deny set is queried with the nested
// fact tree as input. Elements of the deny set are either plain messages or
// objects with message, path and severity keys:
//
//	package site.rack
//
//	import rego.v1
//
//	deny contains v if {
//		not input.rack
//		v := {"message": "rack fact is missing", "path": "rack", "severity": "error"}
//	}
//
// Two policies are builtin. hostfacts.consistency cross-checks facts of
// different resolvers (release components, kernel versions, privilege and
// the primary interface). hostfacts.debian checks the identity facts of
// Debian hosts.
//
// Custom policies are read from .rego files, or from .json files holding a
// Policy, by Loader. Loader.Watch reloads them on change; Engine.ReplacePolicies
// is the matching reload hook.
//
// A Report passes unless a violation has error severity.
package policy
