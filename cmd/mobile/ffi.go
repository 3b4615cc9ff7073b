package main

/*
#cgo CFLAGS: -Wall -Wextra
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

// Functions returning *C.char hand ownership to the caller, who must
// release it with FreeString. A NULL result means failure; the details
// are available from GetLastError as {"code","message"} JSON.

func result(s string, err error) *C.char {
	core.setErr(err)
	if err != nil {
		return nil
	}
	return C.CString(s)
}

func status(err error) C.int {
	core.setErr(err)
	if err != nil {
		return -1
	}
	return 0
}

//export Init
// Init opens the stores under dataDir and starts background sync.
// configPath may be empty. Returns 0 on success.
func Init(configPath, dataDir *C.char) C.int {
	return status(core.start(C.GoString(configPath), C.GoString(dataDir)))
}

//export Shutdown
func Shutdown() C.int {
	return status(core.shutdown())
}

//export GetLastError
// GetLastError returns the last error as JSON, or an empty string.
func GetLastError() *C.char {
	return C.CString(core.lastError())
}

// =====================================================
// Entity Operations
// =====================================================

//export EntitySubmit
// EntitySubmit applies a create, update or delete locally and queues it.
// payload is {"id": "...", "fields": {...}}. Returns the queued mutation.
func EntitySubmit(table, op, payload *C.char) *C.char {
	return result(core.submit(C.GoString(table), C.GoString(op), C.GoString(payload)))
}

//export EntityGet
func EntityGet(table, id *C.char) *C.char {
	return result(core.get(C.GoString(table), C.GoString(id)))
}

//export EntityList
// EntityList lists a table, optionally filtered by an index such as
// "category_id" or "tag". Pass empty strings for no filter.
func EntityList(table, index, value *C.char) *C.char {
	return result(core.list(C.GoString(table), C.GoString(index), C.GoString(value)))
}

// =====================================================
// Sync Operations
// =====================================================

//export SyncNow
func SyncNow() *C.char {
	return result(core.syncNow())
}

//export SyncState
func SyncState() *C.char {
	return result(core.syncState())
}

//export NetworkChanged
// NetworkChanged forwards a platform connectivity callback.
func NetworkChanged(online C.int) C.int {
	return status(core.reportNetwork(online != 0))
}

// =====================================================
// Media Operations
// =====================================================

//export MediaResolve
// MediaResolve returns {"path", "content_type", "placeholder", ...} for a
// media URL. kind and priority may be empty.
func MediaResolve(url, kind, priority, owner *C.char) *C.char {
	return result(core.resolveMedia(C.GoString(url), C.GoString(kind), C.GoString(priority), C.GoString(owner)))
}

//export MediaCleanup
func MediaCleanup() *C.char {
	return result(core.cleanupMedia())
}

//export FreeString
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}
