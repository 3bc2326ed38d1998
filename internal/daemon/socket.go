package daemon

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	gap "github.com/muesli/go-app-paths"
	"golang.org/x/sys/unix"

	"github.com/hibiki-dev/hibikid/internal/protocol"
)

const probeTimeout = 500 * time.Millisecond

// ResolveSocketPath picks the daemon socket path: explicit override, then
// the per-user runtime directory, then the per-user data directory, then a
// home-directory fallback, and finally a uid-keyed path under the system
// temp directory. The last resort is keyed by uid rather than pid so the
// path survives daemon restarts.
func ResolveSocketPath(override string) string {
	if override != "" {
		return override
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "hibikid.sock")
	}
	scope := gap.NewScope(gap.User, "hibiki")
	if path, err := scope.DataPath("hibikid.sock"); err == nil && path != "" {
		return path
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".hibiki", "hibikid.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("hibikid-%d.sock", os.Getuid()))
}

// probePeer dials an existing socket file and pings it. It reports whether a
// live daemon answered, along with that daemon's pid when the platform
// exposes peer credentials. A socket file nobody answers on is stale.
func probePeer(path string) (pid int, alive bool) {
	conn, err := net.DialTimeout("unix", path, probeTimeout)
	if err != nil {
		return 0, false
	}
	defer conn.Close()

	pid = peerPID(conn)

	deadline := time.Now().Add(probeTimeout)
	_ = conn.SetDeadline(deadline)
	if err := protocol.WriteMessage(conn, protocol.NewPing()); err != nil {
		return pid, false
	}
	payload, err := protocol.ReadFrame(conn)
	if err != nil {
		return pid, false
	}
	msg, err := protocol.ParseResponse(payload)
	if err != nil {
		return pid, false
	}
	_, ok := msg.(protocol.PongResponse)
	return pid, ok
}

// peerPID extracts the listening process id via SO_PEERCRED. Returns 0 when
// the credentials are not discoverable.
func peerPID(conn net.Conn) int {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0
	}
	var pid int
	_ = raw.Control(func(fd uintptr) {
		if cred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED); err == nil {
			pid = int(cred.Pid)
		}
	})
	return pid
}
