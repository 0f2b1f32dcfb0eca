package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	if info.Mode().Perm()&0o007 != 0 {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (warning: world accessible)", path)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckReceiptSalt verifies that receipts can be hashed.
func CheckReceiptSalt(salt string) Result {
	const name = "Receipt salt"
	switch n := len(strings.TrimSpace(salt)); {
	case n == 0:
		return Result{Name: name, Detail: "missing (set node.receipt_salt or TIPLINE_RECEIPT_SALT)"}
	case n < 16:
		return Result{Name: name, Passed: true, Detail: "set (warning: shorter than 16 characters)"}
	default:
		return Result{Name: name, Passed: true, Detail: "set"}
	}
}

// CheckSMTP verifies that the SMTP relay accepts TCP connections.
func CheckSMTP(ctx context.Context, host string, port int) Result {
	const name = "SMTP relay"

	addr := net.JoinHostPort(strings.TrimSpace(host), strconv.Itoa(port))
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(checkCtx, "tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%s)", addr, summarizeNetError(err))}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: addr + " reachable"}
}

// CheckNtfy verifies that the ntfy topic endpoint answers. Operator alerts
// are best effort, so a failure is reported but does not block startup.
func CheckNtfy(ctx context.Context, topic string) Result {
	const name = "ntfy"

	target := strings.TrimSpace(topic)
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, target, nil)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("invalid topic url (%v)", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("unreachable (%s)", summarizeNetError(err))}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Optional: true, Passed: true, Detail: "Reachable"}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	return err.Error()
}
