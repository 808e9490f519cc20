/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package vm

import "sync"

// Invokable is a host-provided class reachable from bytecode by class
// descriptor. Registered implementations are looked up ahead of any
// in-DEX CodeItem during invoke-* dispatch.
type Invokable interface {
	Call(methodName string, machine *VM, args []Register) (Register, *VMException)
}

var (
	registryMu sync.Mutex
	registry   = map[string]Invokable{}
)

// RegisterInvokable binds descriptor to inv, process-wide. A second
// registration under the same descriptor replaces the prior one --
// registration is idempotent, not additive. The critical section is
// only the map write; Invokable.Call always runs outside the lock.
func RegisterInvokable(descriptor string, inv Invokable) {
	registryMu.Lock()
	registry[descriptor] = inv
	registryMu.Unlock()
}

// LookupInvokable returns the host-provided class bound to descriptor,
// if any.
func LookupInvokable(descriptor string) (Invokable, bool) {
	registryMu.Lock()
	inv, ok := registry[descriptor]
	registryMu.Unlock()
	return inv, ok
}
