//go:build windows
// +build windows

package jitrec

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

func dial(addr string) (net.Conn, error) {
	return winio.DialPipe(addr, nil)
}

func DefaultServerAddress(pid int) string {
	return fmt.Sprintf(`\\.\pipe\dotnet-diagnostic-%d`, pid)
}
