// Example native plugin driving a script function through the bridge.
// Build with: tinygo build -o guest.wasm -target=wasi -buildmode=c-shared guest.go
//
// manifest.yaml next to the binary:
//
//	name: guest
//	binary: guest.wasm
//	entry: run
//	functions:
//	  - name: bump
//	    expr: "[setref(args[0], deref(args[0]) + args[1]), setref(args[2], 'done')][0]"

package main

import "unsafe"

//go:wasmimport sp fn_lookup
func fnLookup(namePtr, nameLen uint32) int32

//go:wasmimport sp fn_push_cell_ref
func fnPushCellRef(handle int32, addr, flags uint32) uint32

//go:wasmimport sp fn_push_cell
func fnPushCell(handle, value int32) uint32

//go:wasmimport sp fn_push_string_ex
func fnPushStringEx(handle int32, addr, length, szFlags, cpFlags uint32) uint32

//go:wasmimport sp fn_execute
func fnExecute(handle int32, resultPtr uint32) uint32

//go:wasmimport sp fn_release
func fnRelease(handle int32) uint32

const copyBack = 1

var counter int32 = 40
var status [8]byte
var result int32

//export run
func run() int32 {
	name := "bump"
	h := fnLookup(uint32(uintptr(unsafe.Pointer(unsafe.StringData(name)))), uint32(len(name)))
	if h < 0 {
		return -1
	}
	defer fnRelease(h)

	fnPushCellRef(h, uint32(uintptr(unsafe.Pointer(&counter))), copyBack)
	fnPushCell(h, 2)
	fnPushStringEx(h, uint32(uintptr(unsafe.Pointer(&status[0]))), uint32(len(status)), 0, copyBack)
	if code := fnExecute(h, uint32(uintptr(unsafe.Pointer(&result)))); code != 0 {
		return int32(code)
	}
	return counter
}

func main() {}
