package extfs

import (
	"fmt"
	"os/user"
	"strconv"
	"sync"
)

// UserNotFoundError reports that a textual user name could not be resolved
// to a uid.
type UserNotFoundError struct {
	Name string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user not found: %s", e.Name)
}

// GroupNotFoundError reports that a textual group name could not be
// resolved to a gid.
type GroupNotFoundError struct {
	Name string
}

func (e *GroupNotFoundError) Error() string {
	return fmt.Sprintf("group not found: %s", e.Name)
}

// Bidirectional caches for account database lookups. Scans resolve the
// same handful of ids for every entry, so hitting the account database
// each time would dominate scan time. Entries are never invalidated
// during a run.
var (
	lookupMu  sync.Mutex
	uidToName = make(map[uint32]string)
	nameToUID = make(map[string]uint32)
	gidToName = make(map[uint32]string)
	nameToGID = make(map[string]uint32)
)

// LookupUser resolves a uid to a user name. Ids unknown to the system are
// rendered as their decimal form rather than failing, so scans of
// foreign-owned trees still produce a manifest.
func LookupUser(uid uint32) string {
	lookupMu.Lock()
	defer lookupMu.Unlock()
	if name, ok := uidToName[uid]; ok {
		return name
	}
	var name string
	if u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10)); err == nil {
		name = u.Username
	} else {
		name = strconv.FormatUint(uint64(uid), 10)
	}
	uidToName[uid] = name
	nameToUID[name] = uid
	return name
}

// LookupUserID resolves a user name to a uid, failing with
// UserNotFoundError when the name is unknown.
func LookupUserID(name string) (uint32, error) {
	lookupMu.Lock()
	defer lookupMu.Unlock()
	if uid, ok := nameToUID[name]; ok {
		return uid, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, &UserNotFoundError{Name: name}
	}
	uid64, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, &UserNotFoundError{Name: name}
	}
	uid := uint32(uid64)
	nameToUID[name] = uid
	uidToName[uid] = name
	return uid, nil
}

// LookupGroup resolves a gid to a group name, falling back to the decimal
// form for ids unknown to the system.
func LookupGroup(gid uint32) string {
	lookupMu.Lock()
	defer lookupMu.Unlock()
	if name, ok := gidToName[gid]; ok {
		return name
	}
	var name string
	if g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10)); err == nil {
		name = g.Name
	} else {
		name = strconv.FormatUint(uint64(gid), 10)
	}
	gidToName[gid] = name
	nameToGID[name] = gid
	return name
}

// LookupGroupID resolves a group name to a gid, failing with
// GroupNotFoundError when the name is unknown.
func LookupGroupID(name string) (uint32, error) {
	lookupMu.Lock()
	defer lookupMu.Unlock()
	if gid, ok := nameToGID[name]; ok {
		return gid, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, &GroupNotFoundError{Name: name}
	}
	gid64, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, &GroupNotFoundError{Name: name}
	}
	gid := uint32(gid64)
	nameToGID[name] = gid
	gidToName[gid] = name
	return gid, nil
}
