//go:build unix

package extfs

import (
	"errors"
	"os/user"
	"strconv"
	"testing"
)

func TestLookupUserCurrentUser(t *testing.T) {
	current, err := user.Current()
	if err != nil {
		t.Skipf("cannot determine current user: %v", err)
	}
	uid64, err := strconv.ParseUint(current.Uid, 10, 32)
	if err != nil {
		t.Fatalf("non-numeric uid %q", current.Uid)
	}
	uid := uint32(uid64)

	if got := LookupUser(uid); got != current.Username {
		t.Errorf("LookupUser(%d) = %q, want %q", uid, got, current.Username)
	}
	// Reverse lookup hits the cache populated above.
	back, err := LookupUserID(current.Username)
	if err != nil {
		t.Fatalf("LookupUserID(%q) error = %v", current.Username, err)
	}
	if back != uid {
		t.Errorf("LookupUserID(%q) = %d, want %d", current.Username, back, uid)
	}
}

func TestLookupUserUnknownIDFallsBackToDecimal(t *testing.T) {
	// An id at the top of the 32-bit range is not going to be a real
	// account on a test machine.
	const uid = uint32(4294901760)
	want := strconv.FormatUint(uint64(uid), 10)
	if _, err := user.LookupId(want); err == nil {
		t.Skipf("uid %d exists on this system", uid)
	}

	if got := LookupUser(uid); got != want {
		t.Errorf("LookupUser(%d) = %q, want decimal %q", uid, got, want)
	}
	// The decimal form was cached bidirectionally, so a restore of a
	// manifest recorded on another system can still resolve it.
	back, err := LookupUserID(want)
	if err != nil {
		t.Fatalf("LookupUserID(%q) error = %v", want, err)
	}
	if back != uid {
		t.Errorf("LookupUserID(%q) = %d, want %d", want, back, uid)
	}
}

func TestLookupUserIDUnknownNameFails(t *testing.T) {
	_, err := LookupUserID("no-such-user-ddm-test")
	if err == nil {
		t.Fatal("unknown user name resolved")
	}
	var notFound *UserNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("error type = %T, want *UserNotFoundError", err)
	}
}

func TestLookupGroupCurrentGroup(t *testing.T) {
	current, err := user.Current()
	if err != nil {
		t.Skipf("cannot determine current user: %v", err)
	}
	gid64, err := strconv.ParseUint(current.Gid, 10, 32)
	if err != nil {
		t.Fatalf("non-numeric gid %q", current.Gid)
	}
	gid := uint32(gid64)

	name := LookupGroup(gid)
	if name == "" {
		t.Fatal("LookupGroup returned an empty name")
	}
	back, err := LookupGroupID(name)
	if err != nil {
		t.Fatalf("LookupGroupID(%q) error = %v", name, err)
	}
	if back != gid {
		t.Errorf("LookupGroupID(%q) = %d, want %d", name, back, gid)
	}
}

func TestLookupGroupIDUnknownNameFails(t *testing.T) {
	_, err := LookupGroupID("no-such-group-ddm-test")
	if err == nil {
		t.Fatal("unknown group name resolved")
	}
	var notFound *GroupNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("error type = %T, want *GroupNotFoundError", err)
	}
}
