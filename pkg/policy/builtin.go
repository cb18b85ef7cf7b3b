package policy

// BuiltinPolicies returns the policies shipped with hostfacts.
func BuiltinPolicies() []Policy {
	return []Policy{
		consistencyPolicy(),
		debianPolicy(),
	}
}

// consistencyPolicy cross-checks facts produced by different resolvers.
func consistencyPolicy() Policy {
	return Policy{
		Name:        "consistency",
		Description: "Facts produced by different resolvers agree with each other",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package hostfacts.consistency

import rego.v1

# The major release is the leading component of the full release.
deny contains v if {
	full := input.os.release.full
	major := input.os.release.major
	full != major
	not startswith(full, sprintf("%s.", [major]))
	v := {
		"message": sprintf("os.release.major %q does not match os.release.full %q", [major, full]),
		"path": "os.release.major",
		"severity": "error",
	}
}

deny contains v if {
	release := input.kernelrelease
	maj := input.kernelmajversion
	not startswith(release, maj)
	v := {
		"message": sprintf("kernelmajversion %q is not a prefix of kernelrelease %q", [maj, release]),
		"path": "kernelmajversion",
		"severity": "error",
	}
}

deny contains v if {
	uid := input.identity.uid
	privileged := input.identity.privileged
	privileged != equal(uid, 0)
	v := {
		"message": sprintf("identity.privileged is %v for uid %v", [privileged, uid]),
		"path": "identity.privileged",
		"severity": "error",
	}
}

deny contains v if {
	primary := input.networking.primary
	not input.networking.interfaces[primary]
	v := {
		"message": sprintf("primary interface %q is not among networking.interfaces", [primary]),
		"path": "networking.primary",
		"severity": "error",
	}
}

deny contains v if {
	primary := input.networking.primary
	iface := input.networking.interfaces[primary]
	not has_binding(iface)
	v := {
		"message": sprintf("primary interface %q has no address binding", [primary]),
		"path": sprintf("networking.interfaces.%s", [primary]),
		"severity": "error",
	}
}

deny contains v if {
	ip := input.networking.ip
	not dotted_quad(ip)
	v := {
		"message": sprintf("networking.ip %q is not a dotted quad", [ip]),
		"path": "networking.ip",
		"severity": "error",
	}
}

has_binding(iface) if count(iface.bindings) > 0

has_binding(iface) if count(iface.bindings6) > 0

dotted_quad(ip) if {
	regex.match(` + "`" + `^[0-9]{1,3}(\.[0-9]{1,3}){3}$` + "`" + `, ip)
	every part in split(ip, ".") {
		to_number(part) <= 255
	}
}
`,
	}
}

// debianPolicy checks the identity facts of Debian hosts.
func debianPolicy() Policy {
	return Policy{
		Name:        "debian",
		Description: "Debian hosts report a consistent family, distribution id and codename",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package hostfacts.debian

import rego.v1

debian if input.os.name == "Debian"

deny contains v if {
	debian
	family := object.get(input, ["os", "family"], "")
	family != "Debian"
	v := {
		"message": sprintf("os.family is %q on a Debian host", [family]),
		"path": "os.family",
		"severity": "error",
	}
}

deny contains v if {
	debian
	id := object.get(input, ["os", "distro", "id"], "")
	id != "Debian"
	v := {
		"message": sprintf("os.distro.id is %q on a Debian host", [id]),
		"path": "os.distro.id",
		"severity": "error",
	}
}

deny contains v if {
	debian
	not input.os.distro.codename
	v := {
		"message": "os.distro.codename is missing on a Debian host",
		"path": "os.distro.codename",
		"severity": "warning",
	}
}
`,
	}
}
