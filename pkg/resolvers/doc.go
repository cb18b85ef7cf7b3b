// Package resolvers contains the platform detector and the fact resolvers
// that ship with hostfacts.
//
// Platform runs before everything else and produces kernel, os.name,
// os.family, os.distro.id, os.distro.codename and os.hardware. Builtin
// returns the resolvers registered on top of it:
//
//	os           os.release.*, os.distro.release.*, os.distro.description, os.architecture
//	kernel       kernelrelease, kernelversion, kernelmajversion
//	processors   processors.count, physicalcount, models, isa, speed (Linux only)
//	identity     identity.uid, gid, user, group, privileged (POSIX kernels)
//	networking   networking.interfaces.*, networking.primary and its addresses
//	hostname     networking.hostname, domain, fqdn
//
// Operators extend the set with external fact files (LoadExternal) and
// Starlark scripts (LoadScripted). External facts register at
// ExternalPriority and win collisions with the builtins.
package resolvers
