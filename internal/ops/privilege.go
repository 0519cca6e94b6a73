package ops

import "os"

// PrivilegeMessage is reported to callers that lack Privilege.
const PrivilegeMessage = "This operation requires sudo privileges."

// Privilege reports whether the process may run privileged operations.
type Privilege interface {
	Privileged() bool
}

// PrivilegeFunc adapts a function to Privilege.
type PrivilegeFunc func() bool

func (f PrivilegeFunc) Privileged() bool { return f() }

// RootPrivilege grants access when the process runs as root.
var RootPrivilege Privilege = PrivilegeFunc(func() bool { return os.Geteuid() == 0 })
