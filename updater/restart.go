package updater

import (
	"errors"
	"fmt"
	"log"
	"os/exec"
	"runtime"
)

// ErrRestartUnsupported means the service manager has to restart the binary
var ErrRestartUnsupported = errors.New("service restart only supported on Windows")

// RestartService asks the Windows service manager to restart serviceName.
// The restart runs in a detached shell so it survives this process stopping.
func RestartService(serviceName string, logger *log.Logger) error {
	if runtime.GOOS != "windows" {
		return ErrRestartUnsupported
	}

	logger.Println("Scheduling service restart...")
	script := fmt.Sprintf("timeout /t 2 /nobreak >NUL & sc stop %[1]s & timeout /t 3 /nobreak >NUL & sc start %[1]s", serviceName)
	cmd := exec.Command("cmd", "/C", script)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to schedule restart: %w", err)
	}
	return cmd.Process.Release()
}
